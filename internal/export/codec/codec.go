// Package codec serializes export packages as JSON, CSV or XML. Content is
// base64 encoded in CSV and XML so arbitrary bytes survive a round trip.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"time"

	"dsrengine/internal/export/models"
	"dsrengine/pkg/domain"
)

var csvHeader = []string{"module", "item_id", "kind", "priority", "content_base64"}

// Encode serializes the package in the requested format.
func Encode(format models.Format, pkg *models.Package) ([]byte, error) {
	switch format {
	case models.FormatJSON:
		return json.MarshalIndent(pkg, "", "  ")
	case models.FormatCSV:
		return encodeCSV(pkg)
	case models.FormatXML:
		return encodeXML(pkg)
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// Decode parses a package produced by Encode.
func Decode(format models.Format, data []byte) (*models.Package, error) {
	switch format {
	case models.FormatJSON:
		var pkg models.Package
		if err := json.Unmarshal(data, &pkg); err != nil {
			return nil, fmt.Errorf("decode json export: %w", err)
		}
		return &pkg, nil
	case models.FormatCSV:
		return decodeCSV(data)
	case models.FormatXML:
		return decodeXML(data)
	}
	return nil, fmt.Errorf("unsupported export format %q", format)
}

// The first CSV record carries package metadata as key/value pairs.
func encodeCSV(pkg *models.Package) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	meta := []string{
		"request_id", pkg.RequestID.String(),
		"subject_id", string(pkg.SubjectID),
		"generated_at", pkg.GeneratedAt.Format(time.RFC3339Nano),
	}
	if err := w.Write(meta); err != nil {
		return nil, err
	}
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, it := range pkg.Items {
		row := []string{it.Module, it.ItemID, it.Kind, strconv.FormatBool(it.Priority), base64.StdEncoding.EncodeToString(it.Content)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCSV(data []byte) (*models.Package, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("decode csv export: %w", err)
	}
	if len(records) < 2 || len(records[0]) != 6 {
		return nil, errors.New("decode csv export: missing metadata")
	}
	meta := records[0]
	requestID, err := domain.ParseRequestID(meta[1])
	if err != nil {
		return nil, fmt.Errorf("decode csv export: %w", err)
	}
	generated, err := time.Parse(time.RFC3339Nano, meta[5])
	if err != nil {
		return nil, fmt.Errorf("decode csv export: %w", err)
	}
	pkg := &models.Package{RequestID: requestID, SubjectID: domain.SubjectID(meta[3]), GeneratedAt: generated}
	for _, rec := range records[2:] {
		if len(rec) != len(csvHeader) {
			return nil, fmt.Errorf("decode csv export: row has %d fields", len(rec))
		}
		priority, err := strconv.ParseBool(rec[3])
		if err != nil {
			return nil, fmt.Errorf("decode csv export: %w", err)
		}
		content, err := base64.StdEncoding.DecodeString(rec[4])
		if err != nil {
			return nil, fmt.Errorf("decode csv export: %w", err)
		}
		pkg.Items = append(pkg.Items, models.PackageItem{Module: rec[0], ItemID: rec[1], Kind: rec[2], Priority: priority, Content: content})
	}
	return pkg, nil
}

type xmlPackage struct {
	XMLName     xml.Name  `xml:"export"`
	RequestID   string    `xml:"request_id,attr"`
	SubjectID   string    `xml:"subject_id,attr"`
	GeneratedAt string    `xml:"generated_at,attr"`
	Items       []xmlItem `xml:"item"`
}

type xmlItem struct {
	Module   string `xml:"module,attr"`
	ItemID   string `xml:"item_id,attr"`
	Kind     string `xml:"kind,attr"`
	Priority bool   `xml:"priority,attr"`
	Content  string `xml:"content"`
}

func encodeXML(pkg *models.Package) ([]byte, error) {
	doc := xmlPackage{
		RequestID:   pkg.RequestID.String(),
		SubjectID:   string(pkg.SubjectID),
		GeneratedAt: pkg.GeneratedAt.Format(time.RFC3339Nano),
	}
	for _, it := range pkg.Items {
		doc.Items = append(doc.Items, xmlItem{
			Module:   it.Module,
			ItemID:   it.ItemID,
			Kind:     it.Kind,
			Priority: it.Priority,
			Content:  base64.StdEncoding.EncodeToString(it.Content),
		})
	}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

func decodeXML(data []byte) (*models.Package, error) {
	var doc xmlPackage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode xml export: %w", err)
	}
	requestID, err := domain.ParseRequestID(doc.RequestID)
	if err != nil {
		return nil, fmt.Errorf("decode xml export: %w", err)
	}
	generated, err := time.Parse(time.RFC3339Nano, doc.GeneratedAt)
	if err != nil {
		return nil, fmt.Errorf("decode xml export: %w", err)
	}
	pkg := &models.Package{RequestID: requestID, SubjectID: domain.SubjectID(doc.SubjectID), GeneratedAt: generated}
	for _, it := range doc.Items {
		content, err := base64.StdEncoding.DecodeString(it.Content)
		if err != nil {
			return nil, fmt.Errorf("decode xml export: %w", err)
		}
		pkg.Items = append(pkg.Items, models.PackageItem{Module: it.Module, ItemID: it.ItemID, Kind: it.Kind, Priority: it.Priority, Content: content})
	}
	return pkg, nil
}

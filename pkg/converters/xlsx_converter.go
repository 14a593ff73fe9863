package converters

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/feichai0017/waybill-processor/internal/models"
	"github.com/feichai0017/waybill-processor/internal/service/formatter"
	"github.com/feichai0017/waybill-processor/pkg/logger"
)

const (
	SheetName   = "Накладные"
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// DocumentConverter turns a batch of documents into an exported file.
type DocumentConverter interface {
	Convert(ctx context.Context, docs []*models.Document) ([]byte, error)
}

// BaseResolver maps a raw base name and address onto the canonical directory entry.
type BaseResolver interface {
	Resolve(ctx context.Context, name, address string) (canonical, city string, err error)
}

var headers = []string{
	"№",
	"Статус",
	"Создан",
	"Базис погрузки",
	"Город",
	"Адрес",
	"Дата погрузки",
	"ФИО водителя",
	"Вес, кг",
	"Вес, т",
	"Вид продукции",
	"Уверенность",
	"Причина",
	"Доставка",
}

// XLSXConverter writes one row per document into a single sheet.
type XLSXConverter struct {
	bases  BaseResolver
	logger logger.Logger
}

// NewXLSXConverter builds a converter. bases may be nil; raw base names are written then.
func NewXLSXConverter(bases BaseResolver, log logger.Logger) *XLSXConverter {
	return &XLSXConverter{bases: bases, logger: log.Named("xlsx")}
}

func (c *XLSXConverter) Convert(ctx context.Context, docs []*models.Document) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(SheetName, 1, 1, style)
	}

	for i, doc := range docs {
		row := i + 2
		for col, v := range c.row(ctx, doc) {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(SheetName, cell, v); err != nil {
				return nil, fmt.Errorf("failed to write document %d: %w", doc.ID, err)
			}
		}
	}

	_ = f.SetColWidth(SheetName, "C", "C", 18)
	_ = f.SetColWidth(SheetName, "D", "F", 30)
	_ = f.SetColWidth(SheetName, "G", "H", 24)
	_ = f.SetColWidth(SheetName, "K", "K", 20)
	_ = f.SetColWidth(SheetName, "M", "M", 40)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	c.logger.Debug("workbook written", logger.Int("rows", len(docs)), logger.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (c *XLSXConverter) row(ctx context.Context, doc *models.Document) []any {
	fields := doc.Fields
	if fields == nil {
		fields = &models.OcrFields{}
	}

	base, city := fields.BaseName(), fields.BaseCity()
	if c.bases != nil && (base != "" || fields.BaseAddress() != "") {
		canonical, resolvedCity, err := c.bases.Resolve(ctx, base, fields.BaseAddress())
		if err != nil {
			c.logger.Warn("base lookup failed", logger.Int64("doc_id", doc.ID), logger.Error(err))
		} else {
			if canonical != "" {
				base = canonical
			}
			if resolvedCity != "" {
				city = resolvedCity
			}
		}
	}

	var kg, tons any = "", ""
	if w := fields.WeightTotal; w != nil {
		switch {
		case w.Kg != nil:
			kg = *w.Kg
			if !w.EditedByUser {
				tons = float64(*w.Kg) / 1000
			}
		case w.ValueTons != nil:
			tons = *w.ValueTons
		}
	}

	return []any{
		doc.ID,
		string(doc.Status),
		doc.CreatedAt.Format("2006-01-02 15:04"),
		base,
		city,
		fields.BaseAddress(),
		formatter.NormalizeDate(fields.Date()),
		formatter.NormalizeDriverName(fields.Driver()),
		kg,
		tons,
		fields.Product(),
		doc.Confidence,
		doc.Reason,
		doc.Delivery.Status,
	}
}

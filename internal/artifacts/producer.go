// Package artifacts builds the notification payload for a schedule: a
// screenshot, a CSV file, or an embedded text table.
package artifacts

import (
	"context"
	"errors"
	"fmt"

	"github.com/kestrelhq/kestrel/internal/renderer"
	"github.com/kestrelhq/kestrel/internal/reports"
)

// ErrNoChartTarget is returned when a data format is requested for a
// schedule without a chart target. Dashboards can only be screenshotted.
var ErrNoChartTarget = errors.New("data formats require a chart target")

// Artifact is the produced notification payload.
type Artifact struct {
	Format reports.Format

	// Screenshot is set for the png format.
	Screenshot []byte

	// CSV is set for the csv format.
	CSV []byte

	// Table is set for the text format.
	Table *renderer.Table
}

// Producer builds one artifact format for one schedule.
type Producer interface {
	Produce(ctx context.Context, schedule *reports.Schedule) (*Artifact, error)
}

// For resolves the producer for a schedule's configured format. The variant
// is resolved once per run, not per call.
func For(schedule *reports.Schedule, svc renderer.Service) (Producer, error) {
	switch schedule.Format {
	case reports.FormatPNG:
		return &screenshotProducer{svc: svc}, nil
	case reports.FormatCSV:
		if schedule.ChartID == nil {
			return nil, ErrNoChartTarget
		}
		return &csvProducer{svc: svc}, nil
	case reports.FormatText:
		if schedule.ChartID == nil {
			return nil, ErrNoChartTarget
		}
		return &tableProducer{svc: svc}, nil
	default:
		return nil, fmt.Errorf("unknown report format %q", schedule.Format)
	}
}

type screenshotProducer struct {
	svc renderer.Service
}

func (p *screenshotProducer) Produce(ctx context.Context, schedule *reports.Schedule) (*Artifact, error) {
	target, digest := targetRef(schedule)

	image, err := p.svc.GetScreenshot(ctx, target, digest, schedule.ForceScreenshot)
	if err != nil {
		if errors.Is(err, renderer.ErrScreenshotTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("failed taking a screenshot: %w", err)
	}

	return &Artifact{Format: reports.FormatPNG, Screenshot: image}, nil
}

type csvProducer struct {
	svc renderer.Service
}

func (p *csvProducer) Produce(ctx context.Context, schedule *reports.Schedule) (*Artifact, error) {
	data, err := p.svc.GetCSV(ctx, *schedule.ChartID, schedule.ForceScreenshot)
	if err != nil {
		if errors.Is(err, renderer.ErrCSVTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("failed generating csv: %w", err)
	}

	return &Artifact{Format: reports.FormatCSV, CSV: data}, nil
}

type tableProducer struct {
	svc renderer.Service
}

func (p *tableProducer) Produce(ctx context.Context, schedule *reports.Schedule) (*Artifact, error) {
	table, err := p.svc.GetRows(ctx, *schedule.ChartID, schedule.ForceScreenshot)
	if err != nil {
		if errors.Is(err, renderer.ErrDataTimeout) {
			return nil, err
		}
		return nil, fmt.Errorf("failed fetching tabular data: %w", err)
	}

	return &Artifact{Format: reports.FormatText, Table: table}, nil
}

// targetRef maps a schedule's target to the renderer path and cache digest.
func targetRef(schedule *reports.Schedule) (target, digest string) {
	if schedule.ChartID != nil {
		return "/chart/" + *schedule.ChartID, *schedule.ChartID
	}
	if schedule.DashboardID != nil {
		return "/dashboard/" + *schedule.DashboardID, *schedule.DashboardID
	}
	return "/", ""
}

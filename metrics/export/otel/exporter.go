package otel

import (
	"context"
	"errors"
	"fmt"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goSession.MetricsSnapshot
	EventsDropped() uint64
	EventSinkFailures() uint64
}

type observedCounter struct {
	id         goSession.MetricID
	instrument metric.Int64ObservableCounter
}

// histogramInstruments are the gauges of one histogram family, shared by its
// outcome series.
type histogramInstruments struct {
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

type observedHistogram struct {
	id          goSession.MetricID
	instruments *histogramInstruments
	outcome     metric.MeasurementOption
}

// OTelExporter reports engine metrics through observable OpenTelemetry instruments.
type OTelExporter struct {
	source        metricsSource
	registration  metric.Registration
	counters      []observedCounter
	histograms    []observedHistogram
	eventsDropped metric.Int64ObservableCounter
	sinkFailures  metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read engine on every collection.
func NewOTelExporter(meter metric.Meter, engine *goSession.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &OTelExporter{
		source:     source,
		counters:   make([]observedCounter, 0, len(internaldefs.CounterDefs)),
		histograms: make([]observedHistogram, 0, len(internaldefs.HistogramDefs)),
	}

	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*9+1)

	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.Name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.ID, instrument: ins})
		observables = append(observables, ins)
	}

	families := make(map[string]*histogramInstruments)
	for _, def := range internaldefs.HistogramDefs {
		ins, ok := families[def.Name]
		if !ok {
			var err error
			ins, err = newHistogramInstruments(meter, def.Name)
			if err != nil {
				return nil, err
			}
			families[def.Name] = ins
			observables = append(observables, ins.count)
			for _, b := range ins.buckets {
				observables = append(observables, b)
			}
		}
		exporter.histograms = append(exporter.histograms, observedHistogram{
			id:          def.ID,
			instruments: ins,
			outcome:     metric.WithAttributes(attribute.String(internaldefs.OutcomeLabel, def.Outcome)),
		})
	}

	eventsDropped, err := meter.Int64ObservableCounter(
		internaldefs.EventsDroppedName,
		metric.WithDescription(internaldefs.EventsDroppedHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create events dropped counter: %w", err)
	}
	sinkFailures, err := meter.Int64ObservableCounter(
		internaldefs.EventSinkFailuresName,
		metric.WithDescription(internaldefs.EventSinkFailuresHelp),
	)
	if err != nil {
		return nil, fmt.Errorf("create event sink failures counter: %w", err)
	}
	exporter.eventsDropped = eventsDropped
	exporter.sinkFailures = sinkFailures
	observables = append(observables, eventsDropped, sinkFailures)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		for _, h := range exporter.histograms {
			buckets, ok := snapshot.Histograms[h.id]
			if !ok {
				continue
			}
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(buckets))
			for i := 0; i < len(cumulative); i++ {
				observer.ObserveInt64(h.instruments.buckets[i], int64(cumulative[i]), h.outcome)
			}
			observer.ObserveInt64(h.instruments.count, int64(cumulative[len(cumulative)-1]), h.outcome)
		}
		observer.ObserveInt64(exporter.eventsDropped, int64(exporter.source.EventsDropped()))
		observer.ObserveInt64(exporter.sinkFailures, int64(exporter.source.EventSinkFailures()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func newHistogramInstruments(meter metric.Meter, name string) (*histogramInstruments, error) {
	ins := &histogramInstruments{}
	for i := 0; i < len(internaldefs.HistogramBoundSuffix); i++ {
		bucketName := name + "_bucket_le_" + internaldefs.HistogramBoundSuffix[i]
		g, err := meter.Int64ObservableGauge(bucketName, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", bucketName, err)
		}
		ins.buckets[i] = g
	}
	countName := name + "_count"
	count, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Histogram total sample count."))
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
	}
	ins.count = count
	return ins, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}

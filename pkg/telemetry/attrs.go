package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// SpanAttributes collects the attributes of a fuzzing span.
type SpanAttributes struct {
	project   optional[string] // fuzz.project
	job       optional[string] // fuzz.job
	iteration optional[int]    // fuzz.iteration
	artifacts optional[int]    // fuzz.artifacts

	extraAttributes map[string]any
}

func EmptySpanAttributes() *SpanAttributes {
	return &SpanAttributes{
		extraAttributes: make(map[string]any),
	}
}

// JobAttributes identifies the job a span belongs to.
func JobAttributes(project, job string) *SpanAttributes {
	return EmptySpanAttributes().WithProject(project).WithJob(job)
}

// Merge copies values set in other that are not set here yet.
func (o *SpanAttributes) Merge(other *SpanAttributes) {
	if other == nil {
		return
	}
	mergeOptional(&o.project, &other.project)
	mergeOptional(&o.job, &other.job)
	mergeOptional(&o.iteration, &other.iteration)
	mergeOptional(&o.artifacts, &other.artifacts)

	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	for k, v := range other.extraAttributes {
		if _, exists := o.extraAttributes[k]; !exists {
			o.extraAttributes[k] = v
		}
	}
}

func (o *SpanAttributes) WithProject(val string) *SpanAttributes {
	o.project.Set(val)
	return o
}

func (o *SpanAttributes) WithJob(val string) *SpanAttributes {
	o.job.Set(val)
	return o
}

func (o *SpanAttributes) WithIteration(val int) *SpanAttributes {
	o.iteration.Set(val)
	return o
}

func (o *SpanAttributes) WithArtifacts(val int) *SpanAttributes {
	o.artifacts.Set(val)
	return o
}

func (o *SpanAttributes) WithExtraAttribute(key string, val any) *SpanAttributes {
	if o.extraAttributes == nil {
		o.extraAttributes = make(map[string]any)
	}
	o.extraAttributes[key] = val
	return o
}

func (o SpanAttributes) Attributes() []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if o.project.set {
		attrs = append(attrs, attribute.String("fuzz.project", o.project.val))
	}
	if o.job.set {
		attrs = append(attrs, attribute.String("fuzz.job", o.job.val))
	}
	if o.iteration.set {
		attrs = append(attrs, attribute.Int("fuzz.iteration", o.iteration.val))
	}
	if o.artifacts.set {
		attrs = append(attrs, attribute.Int("fuzz.artifacts", o.artifacts.val))
	}

	for k, v := range o.extraAttributes {
		switch val := v.(type) {
		case string:
			attrs = append(attrs, attribute.String(k, val))
		case int:
			attrs = append(attrs, attribute.Int(k, val))
		case int64:
			attrs = append(attrs, attribute.Int64(k, val))
		case float64:
			attrs = append(attrs, attribute.Float64(k, val))
		case bool:
			attrs = append(attrs, attribute.Bool(k, val))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return attrs
}

type optional[T any] struct {
	val T
	set bool
}

func (o *optional[T]) Set(val T) { o.val = val; o.set = true }

func mergeOptional[T any](target, source *optional[T]) {
	if !target.set && source.set {
		target.val = source.val
		target.set = true
	}
}

package domain

import (
	"strconv"

	"github.com/bcnelson/splunk-eam/internal/validation"
)

// IndexDataType is the kind of data an index stores.
type IndexDataType string

const (
	DataTypeEvent  IndexDataType = "event"
	DataTypeMetric IndexDataType = "metric"
)

// DefaultMaxDataSizeMB is the default maxDataSizeMB of a new index.
const DefaultMaxDataSizeMB int64 = 500000

// Index is a Splunk index definition. Names are unique within a stack.
type Index struct {
	Name          string        `json:"name"`
	MaxDataSizeMB int64         `json:"maxDataSizeMB"`
	DataType      IndexDataType `json:"datatype"`
}

// WithDefaults returns a copy with unset fields defaulted.
func (i Index) WithDefaults() Index {
	if i.MaxDataSizeMB == 0 {
		i.MaxDataSizeMB = DefaultMaxDataSizeMB
	}
	if i.DataType == "" {
		i.DataType = DataTypeEvent
	}
	return i
}

// Validate checks the index fields. Call WithDefaults first.
func (i Index) Validate() error {
	var errs validation.ValidationErrors
	errs.Check("name", i.Name, validation.ValidateIndexName(i.Name))
	if i.MaxDataSizeMB <= 0 {
		errs.Add("maxDataSizeMB", strconv.FormatInt(i.MaxDataSizeMB, 10), "must be greater than 0")
	}
	switch i.DataType {
	case DataTypeEvent, DataTypeMetric:
	default:
		errs.Add("datatype", string(i.DataType), "must be one of: event, metric")
	}
	return errs.Err()
}

// CreateIndexRequest is the request body for creating a single index.
type CreateIndexRequest struct {
	Index
	SplunkCredentials
	BundleOptions
}

// BatchIndexesRequest is the request body for creating many indexes at once.
type BatchIndexesRequest struct {
	SplunkCredentials
	BundleOptions
	Indexes []Index `json:"indexes"`
}

package server

import (
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"

	"github.com/umputun/nanoledger/app/apikey"
	"github.com/umputun/nanoledger/app/jobs"
	"github.com/umputun/nanoledger/app/store/enums"
	"github.com/umputun/nanoledger/app/uploads"
)

// Records lists every payload the bridge sends or accepts, used only for schema generation
type Records struct {
	Job                 jobs.Job                 `json:"job"`
	JobItem             jobs.JobItem             `json:"job_item"`
	JobWithItems        jobs.JobWithItems        `json:"job_with_items"`
	TextToImageRequest  jobs.TextToImageRequest  `json:"text_to_image_request"`
	ImageToImageRequest jobs.ImageToImageRequest `json:"image_to_image_request"`
	Transition          jobs.Transition          `json:"transition"`
	Batch               jobs.Batch               `json:"batch"`
	KeyStatus           apikey.Status            `json:"key_status"`
	KeyRequest          KeyRequest               `json:"key_request"`
	UploadRequest       UploadRequest            `json:"upload_request"`
	UploadedFile        uploads.File             `json:"uploaded_file"`
	Image               ImageResponse            `json:"image"`
	Health              HealthResponse           `json:"health"`
	Error               ErrorResponse            `json:"error"`
}

// Schema returns JSON schema of bridge records. Enum types are rendered as string enums.
func Schema() *jsonschema.Schema {
	enumTypes := map[reflect.Type]*jsonschema.Schema{
		reflect.TypeOf(enums.JobStatus{}):  enumSchema(enums.JobStatusValues),
		reflect.TypeOf(enums.ItemStatus{}): enumSchema(enums.ItemStatusValues),
		reflect.TypeOf(enums.Mode{}):       enumSchema(enums.ModeValues),
		reflect.TypeOf(enums.Filter{}):     enumSchema(enums.FilterValues),
	}
	r := jsonschema.Reflector{
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			return enumTypes[t]
		},
	}
	schema := r.Reflect(&Records{})
	schema.Title = "nanoledger bridge records"
	schema.Description = "Payloads of the nanoledger local http bridge"
	return schema
}

func enumSchema[T fmt.Stringer](values []T) *jsonschema.Schema {
	res := &jsonschema.Schema{Type: "string", Enum: make([]any, 0, len(values))}
	for _, v := range values {
		res.Enum = append(res.Enum, v.String())
	}
	return res
}

package uat

import (
	"embed"
	"errors"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

const schemaURL = "https://uat.local/schema/"

var (
	messageSchema  = mustCompileSchema("message.json")
	commandSchemas = map[string]*jsonschema.Schema{
		cmdInfo:       mustCompileSchema("info.json"),
		cmdVar:        mustCompileSchema("var.json"),
		cmdErrorReply: mustCompileSchema("errorreply.json"),
	}
)

func mustCompileSchema(name string) *jsonschema.Schema {
	b, err := schemaFS.ReadFile("schema/" + name)
	if err != nil {
		panic(err)
	}
	return jsonschema.MustCompileString(schemaURL+name, string(b))
}

// schemaReason reduces a validation failure to its first leaf, e.g.
// "/protocol: expected number, but got string".
func schemaReason(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	if ve.InstanceLocation == "" {
		return ve.Message
	}
	return ve.InstanceLocation + ": " + ve.Message
}

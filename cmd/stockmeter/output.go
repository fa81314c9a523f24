package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/tidwall/pretty"
)

// printJSON writes v as indented JSON, colorized when color is set.
func printJSON(w io.Writer, v any, color bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	out := pretty.Pretty(raw)
	if color {
		out = pretty.Color(out, nil)
	}
	_, err = w.Write(out)
	return err
}

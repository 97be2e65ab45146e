package main

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/gentable/engine/internal/engineerr"
	"github.com/gentable/engine/internal/schema"
)

// materializeRow turns a request's raw decoded JSON object into a
// schema.Row, sniffing the content type of any base64-encoded image or
// document column against its declared dtype before the row ever
// reaches the executor — the "storage-facing row materializer" content
// check §10's domain stack reserves gabriel-vasile/mimetype for. A
// column whose value isn't base64 (a URL or external reference, say) is
// passed through unsniffed; sniffing only applies to inline bytes.
func materializeRow(table *schema.Table, raw map[string]any) (schema.Row, error) {
	row := schema.Row{}
	for _, col := range table.Columns {
		if col.IsOutput() || col.IsState() {
			continue
		}
		v, ok := raw[col.ID]
		if !ok {
			continue
		}
		if col.Dtype == schema.DtypeImage || col.Dtype == schema.DtypeDocument {
			if err := checkContentType(col, v); err != nil {
				return nil, err
			}
		}
		row.Put(col.ID, v)
	}
	return row, nil
}

func checkContentType(col *schema.Column, v any) error {
	s, ok := v.(string)
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil // not inline base64 (a URL reference) — nothing to sniff
	}

	detected := mimetype.Detect(data)
	mt := detected.String()

	switch col.Dtype {
	case schema.DtypeImage:
		if !strings.HasPrefix(mt, "image/") {
			return fmt.Errorf("%w: column %q is dtype image but content sniffed as %q", engineerr.ErrBadInput, col.ID, mt)
		}
	case schema.DtypeDocument:
		if strings.HasPrefix(mt, "image/") {
			return fmt.Errorf("%w: column %q is dtype document but content sniffed as image (%q)", engineerr.ErrBadInput, col.ID, mt)
		}
	}
	return nil
}

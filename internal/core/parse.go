package core

import (
	"bytes"
	"database/sql"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// RowTag is the element name that marks a data row at any depth.
const RowTag = "row"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// capture accumulates the leading text of an element, up to its first child.
type capture struct {
	text    strings.Builder
	hasText bool
	stopped bool
}

func (c *capture) value() sql.NullString {
	if !c.hasText {
		return sql.NullString{}
	}
	return sql.NullString{String: c.text.String(), Valid: true}
}

// frame is one open element during decoding.
type frame struct {
	name     string
	rowIdx   int      // Index into rows if this element is a row, else -1
	fieldRow int      // Index of the parent row if this element is a row field, else -1
	text     *capture // Non-nil for row fields and the header name
	isIdent  bool
}

// ParseDocument validates a document against the expected identifier and
// flattens its row elements.
//
// The identifier is the text of the root's header/name element. Every element
// named "row", at any depth, becomes one Row mapping each immediate child's tag
// to that child's leading text. Rows are returned in document order.
//
// Returns an error wrapping ErrMalformedDocument if the XML is not well-formed,
// or ErrIdentifierMismatch if the identifier is missing or different.
func ParseDocument(data []byte, expected string) ([]Row, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel

	var (
		rows       []Row
		stack      []frame
		rootSeen   bool
		ident      sql.NullString
		identFound bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local

			if len(stack) == 0 {
				if rootSeen {
					return nil, fmt.Errorf("%w: multiple root elements", ErrMalformedDocument)
				}
				rootSeen = true
			}

			f := frame{name: name, rowIdx: -1, fieldRow: -1}

			if len(stack) > 0 {
				parent := &stack[len(stack)-1]
				if parent.text != nil {
					parent.text.stopped = true
				}
				if parent.rowIdx >= 0 {
					f.fieldRow = parent.rowIdx
					f.text = &capture{}
				}
			}

			// root > header > name
			if !identFound && len(stack) == 2 && name == "name" && stack[1].name == "header" {
				f.isIdent = true
				identFound = true
				if f.text == nil {
					f.text = &capture{}
				}
			}

			if name == RowTag {
				rows = append(rows, Row{})
				f.rowIdx = len(rows) - 1
			}

			stack = append(stack, f)

		case xml.CharData:
			if len(stack) == 0 {
				if len(bytes.TrimSpace(t)) > 0 {
					return nil, fmt.Errorf("%w: text outside root element", ErrMalformedDocument)
				}
				continue
			}
			if c := stack[len(stack)-1].text; c != nil && !c.stopped {
				c.text.Write(t)
				c.hasText = true
			}

		case xml.EndElement:
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			if f.fieldRow >= 0 {
				rows[f.fieldRow] = rows[f.fieldRow].set(f.name, f.text.value())
			}
			if f.isIdent {
				ident = f.text.value()
			}
		}
	}

	if !rootSeen {
		return nil, fmt.Errorf("%w: no root element", ErrMalformedDocument)
	}

	if !identFound || !ident.Valid {
		return nil, fmt.Errorf("%w: header/name missing, want %q", ErrIdentifierMismatch, expected)
	}
	if ident.String != expected {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrIdentifierMismatch, ident.String, expected)
	}

	return rows, nil
}

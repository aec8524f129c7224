// Package contentstream parses, rewrites and interprets page content
// streams.
package contentstream

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/ir/raw"
	"github.com/wudi/pdfcore/observability"
	"github.com/wudi/pdfcore/parser"
	"github.com/wudi/pdfcore/scanner"
	"github.com/wudi/pdfcore/writer"
)

// Operation is one operator with the operands that preceded it. Inline
// images are a single "BI" operation carrying the image.
type Operation struct {
	Operator string
	Operands []raw.Object
	Image    *InlineImage
}

// InlineImage holds the parameters between BI and ID and the bytes up to EI.
type InlineImage struct {
	Dict *raw.DictObj
	Data []byte
}

func Op(operator string, operands ...raw.Object) Operation {
	return Operation{Operator: operator, Operands: operands}
}

// ParseConfig tunes Parse. The zero value is usable.
type ParseConfig struct {
	Logger   observability.Logger
	MaxDepth int
}

// Parse splits a content stream into operations. Malformed tokens and stray
// delimiters are skipped.
func Parse(data []byte) ([]Operation, error) {
	return ParseWith(data, ParseConfig{})
}

func ParseWith(data []byte, cfg ParseConfig) ([]Operation, error) {
	log := observability.OrNop(cfg.Logger)
	p := parser.NewBytes(data, scanner.Config{Logger: cfg.Logger}, parser.Config{Logger: cfg.Logger, MaxDepth: cfg.MaxDepth})
	var (
		ops      []Operation
		operands []raw.Object
	)
	for {
		tok, err := p.NextToken()
		if err != nil {
			if errors.Cause(err) == io.EOF {
				break
			}
			return ops, errors.Wrap(err, "content stream")
		}
		switch tok.Type {
		case scanner.TokenKeyword:
			switch tok.Str {
			case "]", ">>", ">", "}", "{":
				log.Debug("stray delimiter in content stream", observability.Int64("offset", tok.Pos))
				continue
			case "BI":
				img, err := parseInlineImage(p)
				if err != nil {
					log.Warn("bad inline image", observability.Int64("offset", tok.Pos), observability.Error("error", err))
					operands = nil
					continue
				}
				ops = append(ops, Operation{Operator: "BI", Image: img})
				operands = nil
				continue
			}
			ops = append(ops, Operation{Operator: tok.Str, Operands: operands})
			operands = nil
		case scanner.TokenInlineImage, scanner.TokenStream:
			log.Debug("payload outside BI", observability.Int64("offset", tok.Pos))
		default:
			p.Unread(tok)
			obj, err := p.ParseObject()
			if err != nil {
				log.Debug("skipping malformed operand", observability.Int64("offset", tok.Pos), observability.Error("error", err))
				continue
			}
			operands = append(operands, obj)
		}
	}
	if len(operands) > 0 {
		log.Debug("operands without operator at end of stream", observability.Int("count", len(operands)))
	}
	return ops, nil
}

func parseInlineImage(p *parser.Parser) (*InlineImage, error) {
	dict := raw.Dict()
	for {
		tok, err := p.NextToken()
		if err != nil {
			return nil, errors.Wrap(err, "inline image")
		}
		switch tok.Type {
		case scanner.TokenInlineImage:
			return &InlineImage{Dict: dict, Data: tok.Bytes}, nil
		case scanner.TokenName:
			val, err := p.ParseObject()
			if err != nil {
				return nil, err
			}
			dict.Set(tok.Str, val)
		default:
			return nil, errors.Errorf("unexpected %s in inline image dictionary", tok.Type)
		}
	}
}

// Serialize writes ops back in content stream syntax, one operation per line.
func Serialize(ops []Operation) []byte {
	var buf []byte
	for _, op := range ops {
		buf = appendOp(buf, op)
	}
	return buf
}

func appendOp(buf []byte, op Operation) []byte {
	if op.Image != nil {
		buf = append(buf, "BI"...)
		for _, k := range op.Image.Dict.Keys() {
			buf = append(buf, ' ')
			buf = writer.AppendName(buf, k)
			buf = append(buf, ' ')
			buf = writer.AppendObject(buf, op.Image.Dict.KV[k])
		}
		buf = append(buf, " ID "...)
		buf = append(buf, op.Image.Data...)
		return append(buf, "\nEI\n"...)
	}
	for _, o := range op.Operands {
		buf = writer.AppendObject(buf, o)
		buf = append(buf, ' ')
	}
	buf = append(buf, op.Operator...)
	return append(buf, '\n')
}

// Wrap returns data enclosed in a q/Q pair, after prefix operations.
func Wrap(data []byte, prefix ...Operation) []byte {
	var buf bytes.Buffer
	buf.WriteString("q\n")
	buf.Write(Serialize(prefix))
	buf.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		buf.WriteByte('\n')
	}
	buf.WriteString("Q\n")
	return buf.Bytes()
}

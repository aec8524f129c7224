package main

import (
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"

	"github.com/wudi/pdfcore/scanner"
)

// Prints the token stream of a file, one token per line.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: scantest <pdf>")
		os.Exit(1)
	}
	f, err := os.Open(os.Args[1])
	if err != nil {
		panic(err)
	}
	defer f.Close()
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		panic(err)
	}
	defer m.Unmap()

	s := scanner.NewBytes(m, scanner.Config{})
	for i := 0; i < 200000; i++ { // limit to avoid flooding
		tok, err := s.Next()
		if errors.Cause(err) == io.EOF {
			break
		}
		if err != nil {
			fmt.Printf("ERR: %v\n", err)
			break
		}
		fmt.Printf("%s@%d %s\n", tok.Type, tok.Pos, describe(tok))
	}
}

func describe(tok scanner.Token) string {
	switch tok.Type {
	case scanner.TokenNumber:
		if tok.IsInt {
			return fmt.Sprint(tok.Int)
		}
		return fmt.Sprint(tok.Float)
	case scanner.TokenString:
		if tok.Hex {
			return fmt.Sprintf("<%x>", tok.Bytes)
		}
		return fmt.Sprintf("%q", tok.Bytes)
	case scanner.TokenBoolean:
		return fmt.Sprint(tok.Bool)
	case scanner.TokenRef:
		return tok.Ref.String()
	case scanner.TokenStream, scanner.TokenInlineImage:
		return fmt.Sprintf("%d bytes", len(tok.Bytes))
	}
	return tok.Str
}

package depdb

import (
	"fmt"

	"github.com/alecthomas/errors"
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	recordParser = participle.MustBuild[record](
		participle.Lexer(recordLexer),
		participle.Elide("Whitespace"),
	)
	recordLexer = lexer.MustSimple([]lexer.SimpleRule{
		{"Colon", `:`},
		{"Name", `[^\s:]+`},
		{"Whitespace", `\s+`},
	})
)

// record is a single database line in either of its two forms:
//
//	pkg : dep1 dep2 ...
//	pkg : dep : depfile
type record struct {
	Package string   `parser:"@Name ':'"`
	Deps    []string `parser:"@Name*"`
	File    *string  `parser:"(':' @Name)?"`
}

func (r *record) validate() error {
	if r.File != nil && len(r.Deps) != 1 {
		return errors.Errorf("evidence record must name exactly one dependency, found %d", len(r.Deps))
	}
	return nil
}

// ParseError is returned when a database line is malformed.
type ParseError struct {
	File string
	Line int
	Err  error
}

func (p *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: malformed dependency record: %s", p.File, p.Line, p.Err)
}

func (p *ParseError) Unwrap() error { return p.Err }

func parseRecord(name string, lineno int, line string) (*record, error) {
	rec, err := recordParser.ParseString(name, line)
	if err != nil {
		return nil, &ParseError{File: name, Line: lineno, Err: err}
	}
	if err := rec.validate(); err != nil {
		return nil, &ParseError{File: name, Line: lineno, Err: err}
	}
	return rec, nil
}

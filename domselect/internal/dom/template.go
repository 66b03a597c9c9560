package dom

import (
	"github.com/hazyhaar/selres/domselect/internal/selector"
)

// Normalize returns the canonical spelling of c's value, so that
// equivalent selectors compare equal. Unparsable values are returned
// trimmed.
func Normalize(c selector.Candidate) string {
	switch c.Kind {
	case selector.KindCSS:
		if list, err := parseCSS(c.Value); err == nil {
			return list.String()
		}
	case selector.KindXPath:
		if expr, err := parseXPath(c.Value); err == nil {
			return expr.String()
		}
	case selector.KindText:
		return NormalizeSpace(c.Value)
	}
	return NormalizeSpace(c.Value)
}

// Template reduces c to its structural pattern: the shape of the selector
// with every literal dropped. Two selectors that differ only in ids, class
// names, attribute values or text share a template, so outcomes learned on
// one inform the other.
//
//	button#submit.btn.primary[data-testid="x"]  ->  button#id.class[data-testid]
//	//li[3]/a[@href='/x']                        ->  //li[n]/a[@href]
//	Save                                          ->  text
func Template(c selector.Candidate) string {
	switch c.Kind {
	case selector.KindCSS:
		if list, err := parseCSS(c.Value); err == nil {
			return list.template()
		}
	case selector.KindXPath:
		if expr, err := parseXPath(c.Value); err == nil {
			return expr.template()
		}
	case selector.KindText:
		return "text"
	}
	return string(c.Kind) + ":" + NormalizeSpace(c.Value)
}

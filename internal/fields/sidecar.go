package fields

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"strings"

	"github.com/Lllllllleong/hotfolderflow/internal/models"
)

// node is a generic XML element that survives a read/modify/write cycle.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []*node    `xml:",any"`
}

func (n *node) find(local string) *node {
	if n.XMLName.Local == local {
		return n
	}
	for _, c := range n.Nodes {
		if f := c.find(local); f != nil {
			return f
		}
	}
	return nil
}

func (n *node) child(local string) *node {
	for _, c := range n.Nodes {
		if c.XMLName.Local == local {
			return c
		}
	}
	return nil
}

// Sidecar is a parsed metadata file of the form
//
//	<Document attr="..."><Fields><Name>value</Name>...</Fields></Document>
type Sidecar struct {
	root *node
}

func ParseSidecar(data []byte) (*Sidecar, error) {
	var root node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse sidecar: %w", err)
	}
	return &Sidecar{root: &root}, nil
}

func ReadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sidecar: %w", err)
	}
	return ParseSidecar(data)
}

func (s *Sidecar) document() *node { return s.root.find("Document") }

func (s *Sidecar) fields() *node { return s.root.find("Fields") }

// Values returns the sidecar fields under their plain names.
func (s *Sidecar) Values() models.Fields {
	out := models.Fields{}
	if f := s.fields(); f != nil {
		for _, c := range f.Nodes {
			out[c.XMLName.Local] = strings.TrimSpace(c.Text)
		}
	}
	return out
}

// Variables returns the expression variables contributed by the sidecar:
// XML_<Name> per field and XML_Doc_<attr> per Document attribute.
func (s *Sidecar) Variables() models.Fields {
	out := models.Fields{}
	for k, v := range s.Values() {
		out["XML_"+k] = v
	}
	if d := s.document(); d != nil {
		for _, a := range d.Attrs {
			out["XML_Doc_"+a.Name.Local] = a.Value
		}
	}
	return out
}

// Set writes a field value, creating the Fields element when missing.
func (s *Sidecar) Set(name, value string) {
	f := s.fields()
	if f == nil {
		parent := s.document()
		if parent == nil {
			parent = s.root
		}
		f = &node{XMLName: xml.Name{Local: "Fields"}}
		parent.Nodes = append(parent.Nodes, f)
	}
	if c := f.child(name); c != nil {
		c.Text = value
		return
	}
	f.Nodes = append(f.Nodes, &node{XMLName: xml.Name{Local: name}, Text: value})
}

// Bytes renders the sidecar as indented UTF-8 XML.
func (s *Sidecar) Bytes() ([]byte, error) {
	stripWhitespace(s.root)
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(s.root); err != nil {
		return nil, fmt.Errorf("encode sidecar: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// WriteFile stores the sidecar at path.
func (s *Sidecar) WriteFile(path string) error {
	data, err := s.Bytes()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// stripWhitespace drops the indentation captured as chardata of container
// elements so re-encoding does not accumulate blank lines.
func stripWhitespace(n *node) {
	if len(n.Nodes) > 0 && strings.TrimSpace(n.Text) == "" {
		n.Text = ""
	}
	for _, c := range n.Nodes {
		stripWhitespace(c)
	}
}

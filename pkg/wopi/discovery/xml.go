package discovery

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

// document is the subset of a WOPI discovery document the host reads.
type document struct {
	XMLName  xml.Name  `xml:"wopi-discovery"`
	NetZones []netZone `xml:"net-zone"`
	ProofKey *proofKey `xml:"proof-key"`
}

type netZone struct {
	Name string `xml:"name,attr"`
	Apps []app  `xml:"app"`
}

type app struct {
	Name    string   `xml:"name,attr"`
	Actions []action `xml:"action"`
}

type action struct {
	Name   string `xml:"name,attr"`
	Ext    string `xml:"ext,attr"`
	URLSrc string `xml:"urlsrc,attr"`
}

// proofKey carries both the CSP blobs (value, oldvalue) and the
// modulus/exponent pairs. Only the latter are parsed.
type proofKey struct {
	Value       string `xml:"value,attr"`
	OldValue    string `xml:"oldvalue,attr"`
	Modulus     string `xml:"modulus,attr"`
	Exponent    string `xml:"exponent,attr"`
	OldModulus  string `xml:"oldmodulus,attr"`
	OldExponent string `xml:"oldexponent,attr"`
}

var errNoNetZone = errors.New("discovery document has no net-zone")

// maxDocumentSize caps how much of a discovery response is read.
const maxDocumentSize = 8 << 20

func parseDocument(r io.Reader) (*document, error) {
	var doc document
	dec := xml.NewDecoder(io.LimitReader(r, maxDocumentSize))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse discovery xml: %w", err)
	}
	if len(doc.NetZones) == 0 {
		return nil, errNoNetZone
	}
	return &doc, nil
}

// editAction is one usable edit action found in a document.
type editAction struct {
	App    string
	Ext    string
	URLSrc string
}

// editActions lists the edit actions of every net zone in document order.
func (d *document) editActions() []editAction {
	var out []editAction
	for _, z := range d.NetZones {
		for _, a := range z.Apps {
			for _, act := range a.Actions {
				if act.Name != "edit" || act.URLSrc == "" {
					continue
				}
				out = append(out, editAction{App: a.Name, Ext: act.Ext, URLSrc: act.URLSrc})
			}
		}
	}
	return out
}

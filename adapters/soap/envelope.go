package soap

import (
	"encoding/xml"
	"fmt"
)

const (
	NamespaceEnvelope   = "http://www.w3.org/2003/05/soap-envelope"
	NamespaceAddressing = "http://www.w3.org/2005/08/addressing"
	ContentType         = "application/soap+xml; charset=utf-8"
)

type requestEnvelope struct {
	XMLName xml.Name      `xml:"http://www.w3.org/2003/05/soap-envelope Envelope"`
	Header  requestHeader `xml:"http://www.w3.org/2003/05/soap-envelope Header"`
	Body    rawBody       `xml:"http://www.w3.org/2003/05/soap-envelope Body"`
}

type requestHeader struct {
	ChargeBoxIdentity chargeBoxIdentity `xml:"chargeBoxIdentity"`
	Action            string            `xml:"http://www.w3.org/2005/08/addressing Action"`
	MessageID         string            `xml:"http://www.w3.org/2005/08/addressing MessageID"`
	To                string            `xml:"http://www.w3.org/2005/08/addressing To"`
	From              *addressFrom      `xml:"http://www.w3.org/2005/08/addressing From,omitempty"`
}

type chargeBoxIdentity struct {
	XMLName xml.Name
	Value   string `xml:",chardata"`
}

type addressFrom struct {
	Address string `xml:"http://www.w3.org/2005/08/addressing Address"`
}

type rawBody struct {
	Content []byte `xml:",innerxml"`
}

// responseEnvelope matches elements by local name, so it reads replies
// regardless of the prefixes a station uses.
type responseEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  struct {
		RelatesTo string `xml:"RelatesTo"`
	} `xml:"Header"`
	Body struct {
		Fault   *Fault `xml:"Fault"`
		Content []byte `xml:",innerxml"`
	} `xml:"Body"`
}

// Fault is a SOAP 1.2 fault returned by a station.
type Fault struct {
	Code struct {
		Value   string `xml:"Value"`
		Subcode struct {
			Value string `xml:"Value"`
		} `xml:"Subcode"`
	} `xml:"Code"`
	Reason struct {
		Text string `xml:"Text"`
	} `xml:"Reason"`
}

func (f *Fault) Error() string {
	if f.Code.Subcode.Value != "" {
		return fmt.Sprintf("soap fault %s/%s: %s", f.Code.Value, f.Code.Subcode.Value, f.Reason.Text)
	}
	return fmt.Sprintf("soap fault %s: %s", f.Code.Value, f.Reason.Text)
}

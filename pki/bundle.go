package pki

import "bytes"

// AssembleBundle concatenates the boilerplate with the CA certificate, leaf
// certificate and leaf key PEMs inside <ca>, <cert> and <key> sections. The
// layout is read by VPN clients and must not change; each PEM is expected to
// end with a newline already.
func AssembleBundle(boilerplate, caCertPEM, leafCertPEM, leafKeyPEM []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(boilerplate) + len(caCertPEM) + len(leafCertPEM) + len(leafKeyPEM) + 64)
	buf.Write(boilerplate)
	writeSection(&buf, "ca", caCertPEM)
	writeSection(&buf, "cert", leafCertPEM)
	writeSection(&buf, "key", leafKeyPEM)
	return buf.Bytes()
}

func writeSection(buf *bytes.Buffer, name string, body []byte) {
	buf.WriteString("<" + name + ">\n")
	buf.Write(body)
	buf.WriteString("</" + name + ">\n")
}

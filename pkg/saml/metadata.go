package saml

import (
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"fmt"
	"time"
)

// metadataValidDuration is how long generated SP metadata asserts itself
// valid for.
const metadataValidDuration = 48 * time.Hour

// ServiceProviderMetadata renders this SP's metadata document for IdP
// onboarding: entity ID, signing certificate, accepted NameID formats, the
// assertion consumer endpoint, and the organization and contact information
// operators exchange with IdP administrators.
func (e *Engine) ServiceProviderMetadata() ([]byte, error) {
	descriptor := entityDescriptor{
		EntityID:   e.settings.Issuer(),
		ValidUntil: time.Now().UTC().Add(metadataValidDuration).Format(time.RFC3339),
		SPSSODescriptor: spSSODescriptor{
			ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
			AuthnRequestsSigned:        e.settings.SignRequests,
			WantAssertionsSigned:       !e.settings.SkipSignatureValidation,
			AssertionConsumerServices: []indexedEndpoint{
				{
					Binding:  BindingHTTPPost,
					Location: e.settings.AssertionConsumerServiceURL(),
					Index:    1,
				},
			},
		},
	}

	for _, format := range e.settings.NameIDFormats {
		descriptor.SPSSODescriptor.NameIDFormats = append(descriptor.SPSSODescriptor.NameIDFormats, format)
	}

	if e.settings.Certificate != "" {
		certDER, err := certificateDER(e.settings.Certificate)
		if err != nil {
			return nil, &InvalidConfigurationError{Field: "certificate", Reason: err.Error()}
		}
		descriptor.SPSSODescriptor.KeyDescriptors = []keyDescriptor{
			{Use: "signing", Certificate: base64.StdEncoding.EncodeToString(certDER)},
		}
	}

	if org := e.settings.Organization; org != (Organization{}) {
		descriptor.Organization = &organizationXML{
			Name:        localizedValue{Lang: "en", Value: org.Name},
			DisplayName: localizedValue{Lang: "en", Value: org.DisplayName},
			URL:         localizedValue{Lang: "en", Value: org.URL},
		}
	}
	if c := e.settings.TechnicalContact; c != (Contact{}) {
		descriptor.Contacts = append(descriptor.Contacts, contactXML{
			Type:      "technical",
			GivenName: c.GivenName,
			Email:     c.Email,
		})
	}
	if c := e.settings.SupportContact; c != (Contact{}) {
		descriptor.Contacts = append(descriptor.Contacts, contactXML{
			Type:      "support",
			GivenName: c.GivenName,
			Email:     c.Email,
		})
	}

	out, err := xml.MarshalIndent(descriptor, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render service provider metadata: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func certificateDER(raw string) ([]byte, error) {
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		return block.Bytes, nil
	}
	cert, err := ParseIdPCertificate(raw)
	if err != nil {
		return nil, err
	}
	return cert.Raw, nil
}

type entityDescriptor struct {
	XMLName         xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID        string           `xml:"entityID,attr"`
	ValidUntil      string           `xml:"validUntil,attr"`
	SPSSODescriptor spSSODescriptor  `xml:"SPSSODescriptor"`
	Organization    *organizationXML `xml:"Organization,omitempty"`
	Contacts        []contactXML     `xml:"ContactPerson,omitempty"`
}

type spSSODescriptor struct {
	ProtocolSupportEnumeration string            `xml:"protocolSupportEnumeration,attr"`
	AuthnRequestsSigned        bool              `xml:"AuthnRequestsSigned,attr"`
	WantAssertionsSigned       bool              `xml:"WantAssertionsSigned,attr"`
	KeyDescriptors             []keyDescriptor   `xml:"KeyDescriptor,omitempty"`
	NameIDFormats              []string          `xml:"NameIDFormat,omitempty"`
	AssertionConsumerServices  []indexedEndpoint `xml:"AssertionConsumerService"`
}

type keyDescriptor struct {
	Use         string `xml:"use,attr"`
	Certificate string `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo>X509Data>X509Certificate"`
}

type indexedEndpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    int    `xml:"index,attr"`
}

type organizationXML struct {
	Name        localizedValue `xml:"OrganizationName"`
	DisplayName localizedValue `xml:"OrganizationDisplayName"`
	URL         localizedValue `xml:"OrganizationURL"`
}

type localizedValue struct {
	Lang  string `xml:"xml:lang,attr"`
	Value string `xml:",chardata"`
}

type contactXML struct {
	Type      string `xml:"contactType,attr"`
	GivenName string `xml:"GivenName,omitempty"`
	Email     string `xml:"EmailAddress,omitempty"`
}

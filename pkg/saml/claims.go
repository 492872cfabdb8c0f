package saml

// ClaimsMapper turns the verified attribute set of an assertion into a stable
// user identifier and a best-effort profile. Lookups resolve the provider's
// attribute override first and fall back to Defaults.
//
// Both operations are pure and safe for concurrent use.
type ClaimsMapper struct {
	Defaults AttributeMap
}

// DefaultClaimsMapper resolves the profile roles against the well-known OID
// attribute names. Username shares the userid OID with the permanent ID;
// providers that assert a friendlier handle override it per role.
func DefaultClaimsMapper() *ClaimsMapper {
	return &ClaimsMapper{
		Defaults: AttributeMap{
			PermanentID: OIDUserID,
			FullName:    OIDCommonName,
			FirstName:   OIDGivenName,
			LastName:    OIDSurname,
			Username:    OIDUserID,
			Email:       OIDMail,
		},
	}
}

// ExtractPermanentID returns the stable per-user identifier asserted by the
// provider. Missing or empty values are a hard failure: every downstream
// account link keys off this value.
func (m *ClaimsMapper) ExtractPermanentID(attrs AttributeSet, cfg IdentityProviderConfig) (string, error) {
	key := pick(cfg.Attributes.PermanentID, m.Defaults.PermanentID)
	if v := attrs.First(key); v != "" {
		return v, nil
	}
	return "", &MissingAttributeError{Attribute: key, Provider: cfg.Name}
}

// MapProfile resolves the five optional profile roles independently. A role
// whose attribute is absent stays empty; profile completeness is best-effort
// and MapProfile never fails. Multi-valued attributes contribute their first
// value only.
func (m *ClaimsMapper) MapProfile(attrs AttributeSet, cfg IdentityProviderConfig) Profile {
	return Profile{
		FullName:  attrs.First(pick(cfg.Attributes.FullName, m.Defaults.FullName)),
		FirstName: attrs.First(pick(cfg.Attributes.FirstName, m.Defaults.FirstName)),
		LastName:  attrs.First(pick(cfg.Attributes.LastName, m.Defaults.LastName)),
		Username:  attrs.First(pick(cfg.Attributes.Username, m.Defaults.Username)),
		Email:     attrs.First(pick(cfg.Attributes.Email, m.Defaults.Email)),
	}
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

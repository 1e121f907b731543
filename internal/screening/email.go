package screening

import (
	"context"
	"net"
	"net/mail"
	"strings"
)

// MXResolver looks up mail-exchange records for a domain. Injectable so tests
// and offline environments avoid live DNS.
type MXResolver func(ctx context.Context, domain string) ([]*net.MX, error)

// DefaultMXResolver resolves MX records through the system resolver.
func DefaultMXResolver(ctx context.Context, domain string) ([]*net.MX, error) {
	return net.DefaultResolver.LookupMX(ctx, domain)
}

// disposableDomains is a deny list of known throwaway-mailbox providers.
// Kept short on purpose: the list covers the common offenders, and the email
// rule runs only on sign-up.
var disposableDomains = map[string]bool{
	"mailinator.com":     true,
	"guerrillamail.com":  true,
	"10minutemail.com":   true,
	"tempmail.com":       true,
	"temp-mail.org":      true,
	"throwawaymail.com":  true,
	"yopmail.com":        true,
	"trashmail.com":      true,
	"getnada.com":        true,
	"maildrop.cc":        true,
	"dispostable.com":    true,
	"fakeinbox.com":      true,
	"sharklasers.com":    true,
	"mailnesia.com":      true,
	"disposable.test":    true, // reserved TLD entries for test suites
	"disposable.example": true,
}

// classifyEmail returns every reputation category the address falls into.
// A syntactically invalid address short-circuits: there is no domain worth
// resolving. MX lookup errors count as NO_MX_RECORDS — an unresolvable domain
// cannot receive mail either way.
func classifyEmail(ctx context.Context, resolve MXResolver, email string) []EmailType {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return []EmailType{EmailInvalid}
	}

	at := strings.LastIndex(email, "@")
	domain := strings.ToLower(email[at+1:])
	if domain == "" || !strings.Contains(domain, ".") {
		return []EmailType{EmailInvalid}
	}

	var types []EmailType
	if disposableDomains[domain] {
		types = append(types, EmailDisposable)
	}

	mxs, err := resolve(ctx, domain)
	if err != nil || len(mxs) == 0 {
		types = append(types, EmailNoMX)
	}

	return types
}

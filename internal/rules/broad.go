package rules

// publicProviders are consumer mailbox domains shared by unrelated senders.
var publicProviders = map[string]struct{}{
	"gmail.com":      {},
	"googlemail.com": {},
	"yahoo.com":      {},
	"yahoo.co.uk":    {},
	"ymail.com":      {},
	"outlook.com":    {},
	"hotmail.com":    {},
	"live.com":       {},
	"msn.com":        {},
	"icloud.com":     {},
	"me.com":         {},
	"mac.com":        {},
	"aol.com":        {},
	"proton.me":      {},
	"protonmail.com": {},
	"pm.me":          {},
	"gmx.com":        {},
	"gmx.de":         {},
	"gmx.net":        {},
	"web.de":         {},
	"mail.com":       {},
	"zoho.com":       {},
	"yandex.com":     {},
	"yandex.ru":      {},
	"mail.ru":        {},
	"qq.com":         {},
	"163.com":        {},
	"126.com":        {},
	"naver.com":      {},
	"fastmail.com":   {},
	"hey.com":        {},
	"tutanota.com":   {},
	"comcast.net":    {},
	"verizon.net":    {},
	"att.net":        {},
}

// highTraffic are platform domains that send on behalf of many unrelated
// parties, so a domain rule on them catches far more than intended.
var highTraffic = map[string]struct{}{
	"google.com":        {},
	"amazon.com":        {},
	"amazonses.com":     {},
	"apple.com":         {},
	"microsoft.com":     {},
	"github.com":        {},
	"linkedin.com":      {},
	"facebookmail.com":  {},
	"paypal.com":        {},
	"slack.com":         {},
	"salesforce.com":    {},
	"sendgrid.net":      {},
	"mailchimp.com":     {},
	"mcsv.net":          {},
	"mailgun.org":       {},
	"notion.so":         {},
	"calendly.com":      {},
	"docusign.net":      {},
	"zoom.us":           {},
	"atlassian.net":     {},
	"intercom-mail.com": {},
	"hubspotemail.net":  {},
	"shopify.com":       {},
	"stripe.com":        {},
}

// IsBroadDomain reports whether a domain rule on d would match a large,
// unrelated population of senders.
func IsBroadDomain(d string) bool {
	norm, ok := NormalizeDomain(d)
	if !ok {
		return false
	}
	if _, ok := publicProviders[norm]; ok {
		return true
	}
	_, ok = highTraffic[norm]
	return ok
}

// BroadDomainWarning returns a human-readable warning when m targets a broad
// domain, or "" otherwise.
func BroadDomainWarning(m Match) string {
	kind, value := m.Discriminant()
	if kind != ReasonFromDomain || !IsBroadDomain(value) {
		return ""
	}
	norm, _ := NormalizeDomain(value)
	return "domain " + norm + " is shared by unrelated senders; prefer an exact fromEmail match"
}

package redact

import "regexp"

// Placeholder replaces the secret part of any matched credential.
const Placeholder = "[REDACTED]"

type rule struct {
	re   *regexp.Regexp
	repl string
}

// GitHub token families carry a fixed prefix and 36 alphanumerics. The bearer
// separator is any run of ASCII, vertical-tab or Unicode space characters.
var rules = []rule{
	{regexp.MustCompile(`ghp_[a-zA-Z0-9]{36}`), "ghp_" + Placeholder},
	{regexp.MustCompile(`gho_[a-zA-Z0-9]{36}`), "gho_" + Placeholder},
	{regexp.MustCompile(`ghs_[a-zA-Z0-9]{36}`), "ghs_" + Placeholder},
	{regexp.MustCompile(`ghu_[a-zA-Z0-9]{36}`), "ghu_" + Placeholder},
	{regexp.MustCompile(`Bearer[\s\v\p{Zs}\x{2028}\x{2029}\x{FEFF}]+[a-zA-Z0-9_-]+`), "Bearer " + Placeholder},
}

// String returns s with every credential-shaped substring replaced.
// Redacting already redacted text is a no-op.
func String(s string) string {
	for _, r := range rules {
		s = r.re.ReplaceAllLiteralString(s, r.repl)
	}
	return s
}

// Error returns an error carrying the redacted message of err. The original
// error is kept for errors.Is/As but never printed.
func Error(err error) error {
	if err == nil {
		return nil
	}
	msg := String(err.Error())
	if msg == err.Error() {
		return err
	}
	return &redacted{msg: msg, err: err}
}

type redacted struct {
	msg string
	err error
}

func (r *redacted) Error() string { return r.msg }
func (r *redacted) Unwrap() error { return r.err }


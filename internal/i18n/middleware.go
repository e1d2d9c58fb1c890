package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// LangCookie remembers an explicit language choice made with ?lang=.
const LangCookie = "lang"

// Middleware picks the request language and injects its localizer into the
// request context. An explicit ?lang= wins, then the lang cookie, then
// Accept-Language; anything unsupported falls back to the default language.
// The lang cookie is scoped to cookiePath ("/" when empty).
func Middleware(cookiePath string, secureCookies bool) func(http.Handler) http.Handler {
	if cookiePath == "" {
		cookiePath = "/"
	}
	matcher := language.NewMatcher(Languages())
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" {
				if tag, err := language.Parse(q); err == nil {
					http.SetCookie(w, &http.Cookie{
						Name:     LangCookie,
						Value:    tag.String(),
						Path:     cookiePath,
						HttpOnly: true,
						Secure:   secureCookies,
						SameSite: http.SameSiteLaxMode,
					})
					prefs = append(prefs, tag.String())
				}
			}
			if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
				prefs = append(prefs, c.Value)
			}
			if al := r.Header.Get("Accept-Language"); al != "" {
				prefs = append(prefs, al)
			}

			lang := defaultLang
			if len(prefs) > 0 {
				tag, _ := language.MatchStrings(matcher, prefs...)
				base, _ := tag.Base()
				lang = base.String()
			}
			ctx := WithLocalizer(r.Context(), NewLocalizer(lang))
			ctx = withLang(ctx, lang)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

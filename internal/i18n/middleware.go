package i18n

import "net/http"

// Middleware stores a request localizer in the context. An explicit ?lang=
// query parameter wins over Accept-Language; defaultLang is the last resort.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	fallback := NewLocalizer(defaultLang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var prefs []string
			if q := r.URL.Query().Get("lang"); q != "" {
				prefs = append(prefs, q)
			}
			if accept := r.Header.Get("Accept-Language"); accept != "" {
				prefs = append(prefs, accept)
			}

			loc := fallback
			if len(prefs) > 0 {
				loc = NewLocalizer(append(prefs, defaultLang)...)
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}

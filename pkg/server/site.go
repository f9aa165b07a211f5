package server

import "net/http"

const indexPage = `<!DOCTYPE html>
<html>
  <head><title>Consent-Aware HTTP Example</title></head>
  <body>
    <h1>Welcome to Consent-Aware HTTP</h1>
    <p>This server implements HTTP 430 + AIBDP.</p>
    <h2>Try these requests:</h2>
    <ul>
      <li><code>curl http://localhost:3000/</code> - Normal access (allowed)</li>
      <li><code>curl http://localhost:3000/article.html -H "User-Agent: GPTBot/1.0"</code> - AI bot (may be blocked)</li>
      <li><code>curl http://localhost:3000/.well-known/aibdp.json</code> - View AIBDP manifest</li>
    </ul>
    <h2>Resources:</h2>
    <ul>
      <li><a href="/article.html">Article</a> - Protected content</li>
      <li><a href="/public.html">Public content</a> - Allowed for all</li>
      <li><a href="/.well-known/aibdp.json">AIBDP Manifest</a></li>
    </ul>
  </body>
</html>
`

const articlePage = `<!DOCTYPE html>
<html>
  <head><title>Protected Article</title></head>
  <body>
    <h1>Protected Article</h1>
    <p>This content has AI usage boundaries declared via AIBDP.</p>
    <p>Training: Conditional (requires attribution)</p>
    <p>Generation: Refused</p>
    <p>Indexing: Allowed</p>
  </body>
</html>
`

const publicPage = `<!DOCTYPE html>
<html>
  <head><title>Public Content</title></head>
  <body>
    <h1>Public Content</h1>
    <p>This content is available for all purposes, including AI training.</p>
  </body>
</html>
`

// siteHandler serves the demo pages behind the enforcer.
func siteHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /{$}", page(indexPage))
	mux.Handle("GET /article.html", page(articlePage))
	mux.Handle("GET /public.html", page(publicPage))
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Not Found", http.StatusNotFound)
	})
	return mux
}

func page(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	})
}

package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/gatehouse/api"
	"github.com/jmcleod/gatehouse/credential"
	"github.com/jmcleod/gatehouse/internal/config"
	"github.com/jmcleod/gatehouse/session"
)

const testBrowserUA = "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15"

// ---------------------------------------------------------------------------
// hash-password
// ---------------------------------------------------------------------------

func TestReadSecret(t *testing.T) {
	got, err := readSecret(strings.NewReader("s3cret pass\r\nignored\n"))
	require.NoError(t, err)
	assert.Equal(t, "s3cret pass", got)

	got, err = readSecret(strings.NewReader("no newline"))
	require.NoError(t, err)
	assert.Equal(t, "no newline", got)

	_, err = readSecret(strings.NewReader("\n"))
	assert.ErrorIs(t, err, credential.ErrEmptySecret)
}

func TestHashPasswordCommand(t *testing.T) {
	for _, scheme := range []string{"bcrypt", "argon2id"} {
		t.Run(scheme, func(t *testing.T) {
			var out bytes.Buffer
			rootCmd.SetIn(strings.NewReader("hunter2-but-longer\n"))
			rootCmd.SetOut(&out)
			rootCmd.SetArgs([]string{"hash-password", "--scheme", scheme})
			t.Cleanup(func() { rootCmd.SetIn(nil); rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

			require.NoError(t, rootCmd.Execute())
			hash := strings.TrimSpace(out.String())
			require.NoError(t, credential.CheckStoredHash(hash))
			assert.True(t, credential.Verify("hunter2-but-longer", hash))
			assert.Equal(t, scheme, hashScheme(hash))
		})
	}
}

// ---------------------------------------------------------------------------
// check
// ---------------------------------------------------------------------------

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Env:          config.EnvDevelopment,
		AdminSubject: "admin",
		DataDir:      t.TempDir(),
		Port:         8443,
	}
}

func statusOf(report checkReport, name string) string {
	for _, c := range report.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestRunChecks_DevelopmentDefaults(t *testing.T) {
	report := runChecks(t.Context(), baseConfig(t))

	assert.True(t, report.Valid)
	assert.Equal(t, "warn", statusOf(report, "session_secret"))
	assert.Equal(t, "warn", statusOf(report, "admin_password_hash"))
	assert.Equal(t, "warn", statusOf(report, "tls"))
	assert.Equal(t, "warn", statusOf(report, "state_store"))
	assert.Equal(t, "pass", statusOf(report, "data_dir"))
	assert.Equal(t, "warn", statusOf(report, "upstream"))
}

func TestRunChecks_Failures(t *testing.T) {
	cfg := baseConfig(t)
	cfg.AdminPasswordHash = "$2a$10$short"
	cfg.TLSCert = filepath.Join(t.TempDir(), "missing.pem")
	cfg.TLSKey = filepath.Join(t.TempDir(), "missing-key.pem")

	report := runChecks(t.Context(), cfg)
	assert.False(t, report.Valid)
	assert.Equal(t, "fail", statusOf(report, "admin_password_hash"))
	assert.Equal(t, "fail", statusOf(report, "tls"))
}

func TestRunChecks_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := baseConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()
	report := runChecks(t.Context(), cfg)
	assert.True(t, report.Valid)
	assert.Equal(t, "pass", statusOf(report, "state_store"))
	assert.Empty(t, statusOf(report, "data_dir"), "no local data needed with redis")

	mr.Close()
	report = runChecks(t.Context(), cfg)
	assert.False(t, report.Valid)
	assert.Equal(t, "fail", statusOf(report, "state_store"))
}

func TestRunChecks_ConfiguredHash(t *testing.T) {
	hash, err := credential.Hash("a long admin password", credential.SchemeArgon2id)
	require.NoError(t, err)

	cfg := baseConfig(t)
	cfg.AdminPasswordHash = hash
	cfg.SessionSecret = strings.Repeat("k", 32)
	cfg.UpstreamURL = "http://127.0.0.1:3000"

	report := runChecks(t.Context(), cfg)
	assert.True(t, report.Valid)
	assert.Equal(t, "pass", statusOf(report, "admin_password_hash"))
	assert.Equal(t, "pass", statusOf(report, "session_secret"))
	assert.Equal(t, "pass", statusOf(report, "upstream"))
}

func TestPrintCheckText(t *testing.T) {
	report := checkReport{Env: "production", Valid: false}
	report.add("tls", "fail", "open cert.pem: no such file or directory")
	report.add("upstream", "pass", "http://cms:3000")

	var buf bytes.Buffer
	printCheckText(&buf, report)
	out := buf.String()
	assert.Contains(t, out, "Environment: production")
	assert.Contains(t, out, "✗ tls")
	assert.Contains(t, out, "✓ upstream")
	assert.Contains(t, out, "Result: FAILED")
}

// ---------------------------------------------------------------------------
// server wiring
// ---------------------------------------------------------------------------

func TestOpenStores_Local(t *testing.T) {
	cfg := baseConfig(t)
	cfg.DataDir = filepath.Join(t.TempDir(), "nested", "data")

	st, err := openStores(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory+bbolt", st.kind)
	assert.FileExists(t, filepath.Join(cfg.DataDir, revocationsFile))
	require.NoError(t, st.Close())
}

func TestOpenStores_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	st, err := openStores(t.Context(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "redis", st.kind)
	require.NoError(t, st.Close())
}

func TestAdminPasswordHash_Development(t *testing.T) {
	var out bytes.Buffer
	hash, err := adminPasswordHash(baseConfig(t), &out, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	line := strings.TrimSpace(out.String())
	password := line[strings.LastIndex(line, " ")+1:]
	assert.Len(t, password, 24)
	assert.True(t, credential.Verify(password, hash))
}

func TestAdminPasswordHash_RejectsUnusable(t *testing.T) {
	cfg := baseConfig(t)
	cfg.AdminPasswordHash = "plaintext"
	_, err := adminPasswordHash(cfg, io.Discard, slog.New(slog.DiscardHandler))
	assert.ErrorIs(t, err, credential.ErrUnsupportedHash)
}

func TestUpstream_ForwardsAdminSubject(t *testing.T) {
	var gotSubject, gotPath string
	cms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(AdminSubjectHeader)
		gotPath = r.URL.Path
		w.Header().Set("X-Powered-By", "Express")
		io.WriteString(w, "cms")
	}))
	defer cms.Close()

	upstream, err := newUpstream(cms.URL, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	codec, err := session.NewCodec([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)
	a, err := api.New(codec, "", api.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	h := a.Handler(http.NotFoundHandler(), upstream)

	token, _, err := codec.Issue("editor", true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/admin/posts", nil)
	req.Header.Set("User-Agent", testBrowserUA)
	req.AddCookie(&http.Cookie{Name: api.SessionCookieName, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cms", rec.Body.String())
	assert.Equal(t, "editor", gotSubject)
	assert.Equal(t, "/admin/posts", gotPath)
	assert.Empty(t, rec.Header().Get("X-Powered-By"))

	// A forged header on a public request is dropped.
	req = httptest.NewRequest(http.MethodGet, "/blog", nil)
	req.Header.Set(AdminSubjectHeader, "attacker")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, gotSubject)
}

func TestUpstream_CannotWeakenSecurityHeaders(t *testing.T) {
	cms := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Referrer-Policy", "unsafe-url")
		w.Header().Set("Content-Security-Policy", "default-src *")
		w.Header().Set("Server", "Apache/2.4")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "cms")
	}))
	defer cms.Close()

	upstream, err := newUpstream(cms.URL, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	codec, err := session.NewCodec([]byte(strings.Repeat("s", 32)))
	require.NoError(t, err)
	a, err := api.New(codec, "", api.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	h := a.Handler(http.NotFoundHandler(), upstream)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/blog/hello-world", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cms", rec.Body.String())
	hdr := rec.Result().Header
	assert.Equal(t, []string{"DENY"}, hdr.Values("X-Frame-Options"))
	assert.Equal(t, []string{"strict-origin-when-cross-origin"}, hdr.Values("Referrer-Policy"))
	require.Len(t, hdr.Values("Content-Security-Policy"), 1)
	assert.Contains(t, hdr.Get("Content-Security-Policy"), "default-src 'self'")
	assert.Empty(t, hdr.Get("Server"))
}

func TestUpstream_Unavailable(t *testing.T) {
	cms := httptest.NewServer(http.NotFoundHandler())
	target := cms.URL
	cms.Close()

	upstream, err := newUpstream(target, slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	upstream.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestUpstream_NoneConfigured(t *testing.T) {
	upstream, err := newUpstream("", slog.New(slog.DiscardHandler))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	upstream.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/anything", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

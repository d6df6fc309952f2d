// Package pydeps resolves which third-party packages a Python script needs.
// It scans import statements and subtracts the standard-library module set;
// no filesystem or network access is involved.
package pydeps

import (
	"regexp"
	"sort"
	"strings"
)

var (
	importRe     = regexp.MustCompile(`^import\s+([a-zA-Z_][a-zA-Z0-9_]*)`)
	fromImportRe = regexp.MustCompile(`^from\s+([a-zA-Z_][a-zA-Z0-9_]*)\s+import`)
)

// Imports returns the deduplicated, sorted top-level module names referenced
// by `import X` and `from X import` statements in code. Submodules collapse
// to their top-level package.
func Imports(code string) []string {
	seen := make(map[string]bool)
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := importRe.FindStringSubmatch(trimmed); m != nil {
			seen[m[1]] = true
		}
		if m := fromImportRe.FindStringSubmatch(trimmed); m != nil {
			seen[m[1]] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ThirdParty returns the imports of code that are not part of the Python
// standard library, sorted and deduplicated. These are the packages that must
// be installed before the script can run. No version pinning happens here —
// whatever the installer resolves as latest is what gets installed.
func ThirdParty(code string) []string {
	var out []string
	for _, name := range Imports(code) {
		if !IsStdlib(name) {
			out = append(out, name)
		}
	}
	return out
}

// IsStdlib reports whether name is a Python 3 standard-library module.
func IsStdlib(name string) bool {
	return stdlibModules[name]
}

var stdlibModules = toSet([]string{
	"abc", "aifc", "argparse", "array", "ast", "asynchat", "asyncio", "asyncore",
	"atexit", "audioop", "base64", "bdb", "binascii", "binhex", "bisect", "builtins",
	"bz2", "calendar", "cgi", "cgitb", "chunk", "cmath", "cmd", "code", "codecs",
	"codeop", "collections", "colorsys", "compileall", "concurrent", "configparser",
	"contextlib", "contextvars", "copy", "copyreg", "crypt", "csv", "ctypes", "curses",
	"dataclasses", "datetime", "dbm", "decimal", "difflib", "dis", "distutils", "doctest",
	"email", "encodings", "enum", "errno", "faulthandler", "fcntl", "filecmp", "fileinput",
	"fnmatch", "fractions", "ftplib", "functools", "gc", "getopt", "getpass", "gettext",
	"glob", "graphlib", "grp", "gzip", "hashlib", "heapq", "hmac", "html", "http", "idlelib",
	"imaplib", "imghdr", "imp", "importlib", "inspect", "io", "ipaddress", "itertools",
	"json", "keyword", "lib2to3", "linecache", "locale", "logging", "lzma", "mailbox",
	"mailcap", "marshal", "math", "mimetypes", "mmap", "modulefinder", "msilib", "msvcrt",
	"multiprocessing", "netrc", "nis", "nntplib", "numbers", "operator", "optparse", "os",
	"ossaudiodev", "parser", "pathlib", "pdb", "pickle", "pickletools", "pipes", "pkgutil",
	"platform", "plistlib", "poplib", "posix", "posixpath", "pprint", "profile", "pstats",
	"pty", "pwd", "py_compile", "pyclbr", "pydoc", "queue", "quopri", "random", "re",
	"readline", "reprlib", "resource", "rlcompleter", "runpy", "sched", "secrets", "select",
	"selectors", "shelve", "shlex", "shutil", "signal", "site", "smtpd", "smtplib", "sndhdr",
	"socket", "socketserver", "spwd", "sqlite3", "ssl", "stat", "statistics", "string",
	"stringprep", "struct", "subprocess", "sunau", "symbol", "symtable", "sys", "sysconfig",
	"syslog", "tabnanny", "tarfile", "telnetlib", "tempfile", "termios", "test", "textwrap",
	"threading", "time", "timeit", "tkinter", "token", "tokenize", "tomllib", "trace",
	"traceback", "tracemalloc", "tty", "turtle", "turtledemo", "types", "typing", "unicodedata",
	"unittest", "urllib", "uu", "uuid", "venv", "warnings", "wave", "weakref", "webbrowser",
	"winreg", "winsound", "wsgiref", "xdrlib", "xml", "xmlrpc", "zipapp", "zipfile", "zipimport",
	"zlib", "_thread",
})

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

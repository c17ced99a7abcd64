package uri

import "strings"

// OptionType is the fixed value type for a given canonical option name.
type OptionType int

const (
	TypeBool OptionType = iota
	TypeInt32
	TypeInt64
	TypeUTF8
	// TypeTagSet is readPreferenceTags's type: the only composing option,
	// multiple occurrences append to an ordered list.
	TypeTagSet
)

// canonicalOptions maps every canonical (case-folded) option name this
// parser recognises to its fixed value type.
var canonicalOptions = map[string]OptionType{
	"appname":                      TypeUTF8,
	"authmechanism":                TypeUTF8,
	"authmechanismproperties":      TypeUTF8,
	"authsource":                   TypeUTF8,
	"compressors":                  TypeUTF8,
	"connecttimeoutms":             TypeInt64,
	"directconnection":             TypeBool,
	"heartbeatfrequencyms":         TypeInt64,
	"journal":                      TypeBool,
	"loadbalanced":                 TypeBool,
	"localthresholdms":             TypeInt64,
	"maxidletimems":                TypeInt64,
	"maxpoolsize":                  TypeInt64,
	"maxstalenessseconds":          TypeInt64,
	"minpoolsize":                  TypeInt64,
	"readconcernlevel":             TypeUTF8,
	"readpreference":               TypeUTF8,
	"readpreferencetags":          TypeTagSet,
	"replicaset":                   TypeUTF8,
	"retryreads":                   TypeBool,
	"retrywrites":                  TypeBool,
	"serverselectiontimeoutms":     TypeInt64,
	"socketimeoutms":               TypeInt64,
	"srvmaxhosts":                  TypeInt32,
	"srvservicename":               TypeUTF8,
	"tls":                          TypeBool,
	"tlsallowinvalidcertificates":  TypeBool,
	"tlsallowinvalidhostnames":     TypeBool,
	"tlscafile":                    TypeUTF8,
	"tlscertificatekeyfile":        TypeUTF8,
	"tlscertificatekeyfilepassword": TypeUTF8,
	"tlsinsecure":                  TypeBool,
	"w":                            TypeUTF8,
	"wtimeoutms":                   TypeInt64,
	"zlibcompressionlevel":         TypeInt32,
	"safe":                         TypeBool,
	"uuidrepresentation":           TypeUTF8,
}

// aliases maps deprecated/legacy option spellings to their canonical name.
var aliases = map[string]string{
	"ssl":                             "tls",
	"sslallowinvalidcertificates":     "tlsallowinvalidcertificates",
	"sslallowinvalidhostnames":        "tlsallowinvalidhostnames",
	"sslcertificateauthorityfile":     "tlscafile",
	"sslclientcertificatekeyfile":     "tlscertificatekeyfile",
	"sslclientcertificatekeypassword": "tlscertificatekeyfilepassword",
	"wtimeout":                        "wtimeoutms",
	"j":                               "journal",
	"connecttimeout":                  "connecttimeoutms",
	"sockettimeout":                   "socketimeoutms",
	"sockettimeoutms":                 "socketimeoutms",
}

// tlsImplyingOptions is the set of canonical names whose mere presence
// forces tls=true.
var tlsImplyingOptions = map[string]bool{
	"tlsallowinvalidcertificates":  true,
	"tlsallowinvalidhostnames":     true,
	"tlscafile":                    true,
	"tlscertificatekeyfile":        true,
	"tlscertificatekeyfilepassword": true,
	"tlsinsecure":                  true,
}

// tlsAllowlistOptions is the finer-grained TLS option set that tlsInsecure
// forbids combining with.
var tlsAllowlistOptions = map[string]bool{
	"tlsallowinvalidcertificates": true,
	"tlsallowinvalidhostnames":    true,
}

// canonicalName case-folds and resolves an option name to its canonical
// spelling, reporting ok=false for names this parser does not recognise.
func canonicalName(name string) (string, bool) {
	folded := strings.ToLower(name)
	if canon, isAlias := aliases[folded]; isAlias {
		folded = canon
	}
	_, known := canonicalOptions[folded]
	return folded, known
}

// Package uri parses and validates MongoDB connection strings. It is the
// single source of truth for every tuneable the rest of mongocore reads
// from: every downstream component (topology, monitor, selector, pool)
// consumes a *URI rather than re-parsing strings itself.
package uri

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudresty/mongocore/mongocoreerr"
)

// Scheme distinguishes a plain seed-list connection string from one whose
// host list is resolved via DNS SRV.
type Scheme string

const (
	SchemeMongoDB    Scheme = "mongodb"
	SchemeMongoDBSRV Scheme = "mongodb+srv"
)

// Host is one entry of the URI's ordered seed list.
type Host struct {
	Name string // hostname, IP literal, or unix socket path
	Port uint16 // 0 means "unspecified" (SRV form, or a .sock path)
	IsUnixSocket bool
}

func (h Host) String() string {
	if h.IsUnixSocket || h.Port == 0 {
		return h.Name
	}
	return fmt.Sprintf("%s:%d", h.Name, h.Port)
}

// Credential holds the parsed authentication block.
type Credential struct {
	Username               string
	Password               string
	HasPassword            bool
	AuthSource             string
	AuthMechanism          string
	AuthMechanismProperties map[string]string
}

// URI is the fully normalised, validated connection string.
type URI struct {
	Scheme       Scheme
	Hosts        []Host
	Credential   *Credential
	DefaultDB    string

	Options map[string]any // canonical option name -> typed value
	ReadPreferenceTags []map[string]string

	ReadPreference ReadPreference
	ReadConcern    ReadConcern
	WriteConcern   WriteConcern

	// SRV-mode fields, populated by finalisation / SRV resolution.
	SRVServiceName string
	SRVMaxHosts    int32

	// Warnings collects unknown-option names dropped during parsing
	//.
	Warnings []string
}

// Parse runs the ordered parsing phases over connstring and returns
// a fully validated URI, or a mongocoreerr.Error of kind UriInvalid.
func Parse(connstring string) (*URI, error) {
	u := &URI{Options: map[string]any{}}

	rest, isSRV, err := parseScheme(connstring)
	if err != nil {
		return nil, err
	}
	u.Scheme = SchemeMongoDB
	if isSRV {
		u.Scheme = SchemeMongoDBSRV
	}

	cred, rest, err := parseUserinfo(rest)
	if err != nil {
		return nil, err
	}
	u.Credential = cred

	hostPart, rest := splitHostPart(rest)
	hosts, err := parseHostList(hostPart, isSRV)
	if err != nil {
		return nil, err
	}
	u.Hosts = hosts

	dbPart, rest := splitAuthDB(rest)
	u.DefaultDB = dbPart

	if err := parseOptions(rest, u); err != nil {
		return nil, err
	}

	if err := finalise(u); err != nil {
		return nil, err
	}

	return u, nil
}

func parseScheme(s string) (rest string, isSRV bool, err error) {
	switch {
	case strings.HasPrefix(s, "mongodb+srv://"):
		return s[len("mongodb+srv://"):], true, nil
	case strings.HasPrefix(s, "mongodb://"):
		return s[len("mongodb://"):], false, nil
	default:
		return "", false, mongocoreerr.New(mongocoreerr.KindUriInvalid, "connection string must start with mongodb:// or mongodb+srv://")
	}
}

// parseUserinfo splits the optional "user:pass@" prefix off s. Percent-encoding of reserved characters is mandatory; an
// unescaped '@', ':', or '/' inside userinfo is an error.
func parseUserinfo(s string) (*Credential, string, error) {
	hostEnd := strings.IndexAny(s, "/?")
	searchSpace := s
	if hostEnd != -1 {
		searchSpace = s[:hostEnd]
	}
	at := strings.LastIndex(searchSpace, "@")
	if at == -1 {
		return nil, s, nil
	}

	userinfo := s[:at]
	rest := s[at+1:]

	colon := strings.IndexByte(userinfo, ':')
	var rawUser, rawPass string
	hasPassword := false
	if colon == -1 {
		rawUser = userinfo
	} else {
		rawUser = userinfo[:colon]
		rawPass = userinfo[colon+1:]
		hasPassword = true
	}

	username, err := percentDecodeStrict(rawUser)
	if err != nil {
		return nil, "", mongocoreerr.Wrap(mongocoreerr.KindUriInvalid, err, "invalid percent-encoding in username")
	}
	password, err := percentDecodeStrict(rawPass)
	if err != nil {
		return nil, "", mongocoreerr.Wrap(mongocoreerr.KindUriInvalid, err, "invalid percent-encoding in password")
	}

	return &Credential{Username: username, Password: password, HasPassword: hasPassword, AuthMechanismProperties: map[string]string{}}, rest, nil
}

// percentDecodeStrict decodes s, rejecting any literal (unescaped) '@',
// ':', or '/' — those must be percent-encoded in userinfo 
// phase 2.
func percentDecodeStrict(s string) (string, error) {
	if strings.ContainsAny(s, "@:/") {
		return "", fmt.Errorf("reserved character must be percent-encoded")
	}
	decoded, err := url.QueryUnescape(s)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

func splitHostPart(s string) (hostPart, rest string) {
	end := strings.IndexAny(s, "/?")
	if end == -1 {
		return s, ""
	}
	return s[:end], s[end:]
}

func splitAuthDB(s string) (db, rest string) {
	if s == "" || s[0] != '/' {
		return "", s
	}
	s = s[1:]
	if q := strings.IndexByte(s, '?'); q != -1 {
		return s[:q], s[q:]
	}
	return s, ""
}

// parseHostList parses the comma-separated host:port list. SRV form permits exactly one host with no port.
func parseHostList(hostPart string, isSRV bool) ([]Host, error) {
	if hostPart == "" {
		return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "connection string must name at least one host")
	}

	parts := strings.Split(hostPart, ",")
	if isSRV && len(parts) != 1 {
		return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "mongodb+srv:// requires exactly one host")
	}

	hosts := make([]Host, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "empty host entry")
		}
		h, err := parseOneHost(p, isSRV)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func parseOneHost(s string, isSRV bool) (Host, error) {
	if strings.HasSuffix(s, ".sock") {
		return Host{Name: s, IsUnixSocket: true}, nil
	}
	if isSRV {
		if strings.Contains(s, ":") {
			return Host{}, mongocoreerr.New(mongocoreerr.KindUriInvalid, "mongodb+srv:// host must not specify a port")
		}
		return Host{Name: strings.ToLower(s)}, nil
	}

	name := s
	var port uint16 = 27017
	if idx := strings.LastIndex(s, ":"); idx != -1 {
		name = s[:idx]
		portStr := s[idx+1:]
		p, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil || p == 0 {
			return Host{}, mongocoreerr.New(mongocoreerr.KindUriInvalid, "invalid port %q", portStr)
		}
		port = uint16(p)
	}
	if name == "" {
		return Host{}, mongocoreerr.New(mongocoreerr.KindUriInvalid, "empty hostname")
	}
	return Host{Name: strings.ToLower(name), Port: port}, nil
}

// parseOptions parses the "?key=value&key=value" suffix. Unknown options are logged (Warnings) and dropped rather than
// rejected.
func parseOptions(rest string, u *URI) error {
	rest = strings.TrimPrefix(rest, "?")
	if rest == "" {
		return nil
	}

	for _, pair := range strings.Split(rest, "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq == -1 {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "malformed option %q: missing '='", pair)
		}
		rawKey := pair[:eq]
		rawVal, err := url.QueryUnescape(pair[eq+1:])
		if err != nil {
			return mongocoreerr.Wrap(mongocoreerr.KindUriInvalid, err, "invalid percent-encoding in option value for %q", rawKey)
		}

		canon, known := canonicalName(rawKey)
		if !known {
			u.Warnings = append(u.Warnings, fmt.Sprintf("unknown option %q ignored", rawKey))
			continue
		}

		if err := setOption(u, canon, rawVal); err != nil {
			return err
		}
	}

	return applyDirectOptionFields(u)
}

func setOption(u *URI, canon, rawVal string) error {
	typ := canonicalOptions[canon]

	if canon == "readpreferencetags" {
		tagSet, err := parseTagSet(rawVal)
		if err != nil {
			return err
		}
		u.ReadPreferenceTags = append(u.ReadPreferenceTags, tagSet)
		return nil
	}

	coerced, err := coerceValue(canon, typ, rawVal)
	if err != nil {
		return err
	}

	if existing, ok := u.Options[canon]; ok && existing != coerced {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "option %q specified twice with conflicting values", canon)
	}
	u.Options[canon] = coerced
	return nil
}

func coerceValue(canon string, typ OptionType, raw string) (any, error) {
	switch typ {
	case TypeBool:
		switch strings.ToLower(raw) {
		case "true", "1":
			return true, nil
		case "false", "0":
			return false, nil
		default:
			return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "option %q requires a boolean value, got %q", canon, raw)
		}
	case TypeInt32:
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "option %q requires an int32 value, got %q", canon, raw)
		}
		return int32(v), nil
	case TypeInt64:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "option %q requires an int64 value, got %q", canon, raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func parseTagSet(raw string) (map[string]string, error) {
	tags := map[string]string{}
	if raw == "" {
		return tags, nil
	}
	for _, kv := range strings.Split(raw, ",") {
		parts := strings.SplitN(kv, ":", 2)
		if len(parts) != 2 {
			return nil, mongocoreerr.New(mongocoreerr.KindUriInvalid, "malformed readPreferenceTags entry %q", kv)
		}
		tags[parts[0]] = parts[1]
	}
	return tags, nil
}

// applyDirectOptionFields copies the known direct-typed options into the
// URI's first-class fields once every key=value pair has been coerced.
func applyDirectOptionFields(u *URI) error {
	if v, ok := u.Options["appname"]; ok {
		_ = v // consumed via Options["appname"]; no dedicated field needed.
	}
	if cred := u.Credential; cred != nil {
		if v, ok := u.Options["authsource"].(string); ok {
			cred.AuthSource = v
		}
		if v, ok := u.Options["authmechanism"].(string); ok {
			cred.AuthMechanism = v
		}
		if v, ok := u.Options["authmechanismproperties"].(string); ok {
			props, err := parseTagSet(v)
			if err != nil {
				return mongocoreerr.New(mongocoreerr.KindUriInvalid, "malformed authMechanismProperties %q", v)
			}
			cred.AuthMechanismProperties = props
		}
	}
	if v, ok := u.Options["replicaset"].(string); ok {
		u.Options["replicaset"] = v
	}
	if v, ok := u.Options["srvservicename"].(string); ok {
		u.SRVServiceName = v
	} else {
		u.SRVServiceName = "mongodb"
	}
	if v, ok := u.Options["srvmaxhosts"].(int32); ok {
		u.SRVMaxHosts = v
	}
	if v, ok := u.Options["readpreference"].(string); ok {
		u.ReadPreference.Mode = ReadPreferenceMode(v)
	} else {
		u.ReadPreference.Mode = Primary
	}
	u.ReadPreference.TagSets = u.ReadPreferenceTags
	if v, ok := u.Options["maxstalenessseconds"].(int64); ok {
		u.ReadPreference.MaxStalenessSeconds = v
	}
	if v, ok := u.Options["readconcernlevel"].(string); ok {
		u.ReadConcern.Level = v
	}
	if v, ok := u.Options["w"].(string); ok {
		u.WriteConcern.W = v
	}
	if v, ok := u.Options["journal"].(bool); ok {
		u.WriteConcern.Journal = &v
	}
	if v, ok := u.Options["wtimeoutms"].(int64); ok {
		u.WriteConcern.WTimeoutMS = v
	}
	return nil
}

// ReplicaSet returns the replicaSet option, or "" if unset.
func (u *URI) ReplicaSet() string {
	v, _ := u.Options["replicaset"].(string)
	return v
}

// Bool returns the named option's boolean value and whether it was set.
func (u *URI) Bool(name string) (bool, bool) {
	v, ok := u.Options[name].(bool)
	return v, ok
}

// Int64 returns the named option's int64 value and whether it was set.
func (u *URI) Int64(name string) (int64, bool) {
	v, ok := u.Options[name].(int64)
	return v, ok
}

// Int64WithDefault returns the named option's value, or def if unset.
func (u *URI) Int64WithDefault(name string, def int64) int64 {
	if v, ok := u.Int64(name); ok {
		return v
	}
	return def
}

// String returns a canonical re-serialisation of u, in the form consumed by
// Parse, such that parsing the result yields an equal option set.
func (u *URI) String() string {
	var b strings.Builder
	b.WriteString(string(u.Scheme))
	b.WriteString("://")

	if u.Credential != nil && u.Credential.Username != "" {
		b.WriteString(url.QueryEscape(u.Credential.Username))
		if u.Credential.HasPassword {
			b.WriteByte(':')
			b.WriteString(url.QueryEscape(u.Credential.Password))
		}
		b.WriteByte('@')
	}

	for i, h := range u.Hosts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(h.String())
	}

	if u.DefaultDB != "" {
		b.WriteByte('/')
		b.WriteString(u.DefaultDB)
	}

	keys := make([]string, 0, len(u.Options))
	for k := range u.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var params []string
	for _, k := range keys {
		params = append(params, fmt.Sprintf("%s=%v", k, u.Options[k]))
	}
	for _, tagSet := range u.ReadPreferenceTags {
		tagKeys := make([]string, 0, len(tagSet))
		for k := range tagSet {
			tagKeys = append(tagKeys, k)
		}
		sort.Strings(tagKeys)
		var entries []string
		for _, k := range tagKeys {
			entries = append(entries, fmt.Sprintf("%s:%s", k, tagSet[k]))
		}
		params = append(params, "readPreferenceTags="+strings.Join(entries, ","))
	}

	if len(params) > 0 {
		b.WriteByte('?')
		b.WriteString(strings.Join(params, "&"))
	}

	return b.String()
}

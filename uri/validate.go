package uri

import (
	"strings"

	"github.com/cloudresty/mongocore/mongocoreerr"
)

// finalise validates the cross-option invariants once every phase has
// populated u. DNS resolution is not part of Parse: the resolver package
// performs the SRV/TXT lookups separately.
func finalise(u *URI) error {
	if err := validateTLSImplication(u); err != nil {
		return err
	}
	if err := validateLoadBalanced(u); err != nil {
		return err
	}
	if err := validateDirectConnection(u); err != nil {
		return err
	}
	if err := validateSRVMaxHosts(u); err != nil {
		return err
	}
	if err := validateTLSInsecure(u); err != nil {
		return err
	}
	if err := validateAuth(u); err != nil {
		return err
	}
	return nil
}

func validateTLSImplication(u *URI) error {
	for name := range u.Options {
		if tlsImplyingOptions[name] {
			u.Options["tls"] = true
			break
		}
	}
	return nil
}

// validateLoadBalanced enforces: loadBalanced=true forbids replicaSet,
// directConnection=true, and multiple seeds.
func validateLoadBalanced(u *URI) error {
	lb, _ := u.Bool("loadbalanced")
	if !lb {
		return nil
	}
	if u.ReplicaSet() != "" {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "loadBalanced=true forbids replicaSet")
	}
	if dc, ok := u.Bool("directconnection"); ok && dc {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "loadBalanced=true forbids directConnection=true")
	}
	if len(u.Hosts) > 1 {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "loadBalanced=true forbids multiple seeds")
	}
	return nil
}

// validateDirectConnection enforces: directConnection=true forbids SRV and
// multiple seeds.
func validateDirectConnection(u *URI) error {
	dc, ok := u.Bool("directconnection")
	if !ok || !dc {
		return nil
	}
	if u.Scheme == SchemeMongoDBSRV {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "directConnection=true forbids mongodb+srv://")
	}
	if len(u.Hosts) > 1 {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "directConnection=true forbids multiple seeds")
	}
	return nil
}

// validateSRVMaxHosts enforces: srvMaxHosts>0 forbids replicaSet and
// loadBalanced.
func validateSRVMaxHosts(u *URI) error {
	if u.SRVMaxHosts <= 0 {
		return nil
	}
	if u.ReplicaSet() != "" {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "srvMaxHosts>0 forbids replicaSet")
	}
	if lb, ok := u.Bool("loadbalanced"); ok && lb {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid, "srvMaxHosts>0 forbids loadBalanced")
	}
	return nil
}

// validateTLSInsecure enforces: tlsInsecure forbids the finer-grained TLS
// allowlist options.
func validateTLSInsecure(u *URI) error {
	insecure, ok := u.Bool("tlsinsecure")
	if !ok || !insecure {
		return nil
	}
	for name := range u.Options {
		if tlsAllowlistOptions[name] {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "tlsInsecure cannot be combined with %s", name)
		}
	}
	return nil
}

var knownMechanisms = map[string]bool{
	"SCRAM-SHA-1":   true,
	"SCRAM-SHA-256": true,
	"PLAIN":         true,
	"MONGODB-X509":  true,
	"GSSAPI":        true,
	"MONGODB-AWS":   true,
	"MONGODB-OIDC":  true,
}

var oidcEnvironments = map[string]bool{
	"azure": true,
	"gcp":   true,
	"k8s":   true,
	"test":  true,
}

// validateAuth implements the mechanism-specific authentication presence
// rules.
func validateAuth(u *URI) error {
	cred := u.Credential
	hasUsername := cred != nil && cred.Username != ""
	mechanism := ""
	if cred != nil {
		mechanism = cred.AuthMechanism
	}
	if mechanism == "" && !hasUsername {
		return nil
	}

	if mechanism != "" && !knownMechanisms[mechanism] {
		return mongocoreerr.New(mongocoreerr.KindUriInvalid,
			"unknown authMechanism %q; expected one of SCRAM-SHA-1, SCRAM-SHA-256, PLAIN, MONGODB-X509, GSSAPI, MONGODB-AWS, MONGODB-OIDC", mechanism)
	}

	switch mechanism {
	case "SCRAM-SHA-1", "SCRAM-SHA-256", "PLAIN", "":
		if !hasUsername || !cred.HasPassword || cred.Password == "" {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "%s requires a non-empty username and password", orDefault(mechanism, "SCRAM"))
		}
		if cred.AuthSource == "" {
			if u.DefaultDB != "" {
				cred.AuthSource = u.DefaultDB
			} else {
				cred.AuthSource = "admin"
			}
		}

	case "MONGODB-X509":
		if cred.HasPassword && cred.Password != "" {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "MONGODB-X509 forbids a password")
		}
		if cred.AuthSource == "" {
			cred.AuthSource = "$external"
		}

	case "GSSAPI":
		if !hasUsername {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "GSSAPI requires a username")
		}
		cred.AuthSource = "$external"
		if _, ok := cred.AuthMechanismProperties["SERVICE_NAME"]; !ok {
			cred.AuthMechanismProperties["SERVICE_NAME"] = "mongodb"
		}
		if v, ok := cred.AuthMechanismProperties["CANONICALIZE_HOST_NAME"]; ok && v != "true" && v != "false" {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "GSSAPI CANONICALIZE_HOST_NAME must be \"true\" or \"false\", got %q", v)
		}

	case "MONGODB-AWS":
		if hasUsername != (cred.HasPassword && cred.Password != "") {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "MONGODB-AWS requires both username and password, or neither")
		}
		cred.AuthSource = "$external"

	case "MONGODB-OIDC":
		if cred.HasPassword && cred.Password != "" {
			return mongocoreerr.New(mongocoreerr.KindUriInvalid, "MONGODB-OIDC forbids a password")
		}
		cred.AuthSource = "$external"
		if env, ok := cred.AuthMechanismProperties["ENVIRONMENT"]; ok {
			envLower := strings.ToLower(env)
			if !oidcEnvironments[envLower] {
				return mongocoreerr.New(mongocoreerr.KindUriInvalid, "unknown MONGODB-OIDC ENVIRONMENT %q", env)
			}
			switch envLower {
			case "azure", "gcp":
				if _, ok := cred.AuthMechanismProperties["TOKEN_RESOURCE"]; !ok {
					return mongocoreerr.New(mongocoreerr.KindUriInvalid, "MONGODB-OIDC ENVIRONMENT=%s requires TOKEN_RESOURCE", env)
				}
				if hasUsername && envLower == "gcp" {
					return mongocoreerr.New(mongocoreerr.KindUriInvalid, "MONGODB-OIDC ENVIRONMENT=gcp forbids a username")
				}
			case "k8s", "test":
				// username/TOKEN_RESOURCE optional.
			}
		}
	}

	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

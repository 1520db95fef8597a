package admin

import (
	"github.com/jonwraymond/semian/auth"
	"github.com/jonwraymond/semian/config"
)

// AuthenticatorFromConfig builds the admin authenticator: API keys first,
// then JWT bearer tokens, then the anonymous role when one is configured.
// Presented credentials that fail are never downgraded to anonymous. With
// none of these every resource request is rejected.
func AuthenticatorFromConfig(cfg config.AdminConfig) (auth.Authenticator, error) {
	var chain []auth.Authenticator

	if len(cfg.APIKeys) > 0 {
		store := auth.NewMemoryKeyStore()
		for _, k := range cfg.APIKeys {
			store.Add(k.Key, auth.APIKey{
				ID:        k.ID,
				Principal: k.Principal,
				Roles:     k.Roles,
				ExpiresAt: k.ExpiresAt,
			})
		}
		chain = append(chain, auth.NewAPIKeyAuthenticator(store, ""))
	}

	if cfg.JWT.Secret != "" {
		j, err := auth.NewJWTAuthenticator(JWTConfig(cfg.JWT))
		if err != nil {
			return nil, err
		}
		chain = append(chain, j)
	}

	if cfg.AnonymousRole != "" {
		chain = append(chain, auth.NewAnonymousAuthenticator(cfg.AnonymousRole))
	}

	return auth.NewChain(chain...), nil
}

// JWTConfig converts the config section to an auth.JWTConfig.
func JWTConfig(cfg config.JWTConfig) auth.JWTConfig {
	return auth.JWTConfig{
		Secret:   []byte(cfg.Secret),
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
	}
}

package providers

import (
	"github.com/hopngo/payments/internal/infrastructure/config"
)

// FromConfig instantiates every provider that has enough configuration to run.
func FromConfig(cfg config.ProvidersConfig) []Provider {
	var out []Provider
	if cfg.Mock.Enabled {
		out = append(out, NewMockProvider("mock", WithWebhookSecret(cfg.Mock.WebhookSecret)))
	}
	if cfg.Stripe.SecretKey != "" {
		out = append(out, NewStripeProvider(StripeConfig{
			SecretKey:        cfg.Stripe.SecretKey,
			WebhookSecret:    cfg.Stripe.WebhookSecret,
			APIURL:           cfg.Stripe.APIURL,
			WebhookTolerance: cfg.Stripe.WebhookTolerance,
		}))
	}
	if cfg.Bkash.Enabled() {
		out = append(out, NewBkashProvider(walletConfig(cfg.Bkash)))
	}
	if cfg.Nagad.Enabled() {
		out = append(out, NewNagadProvider(walletConfig(cfg.Nagad)))
	}
	return out
}

func walletConfig(c config.WalletProviderConfig) WalletConfig {
	return WalletConfig{
		BaseURL:      c.BaseURL,
		MerchantID:   c.MerchantID,
		AppKey:       c.AppKey,
		WebhookToken: c.WebhookToken,
	}
}

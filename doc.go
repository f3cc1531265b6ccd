// Package igauth manages OAuth credentials for Instagram accounts on behalf
// of downstream automation that fetches media with those credentials.
//
// Connect flow:
//   - Flow.Begin generates a single-use state, records it in a StateStore and
//     returns the provider consent URL. The HTTP controller hands the state
//     carrier to the browser in the oauth_state cookie.
//   - Flow.Complete consumes the state before anything else, then exchanges
//     the code, attempts the long-lived upgrade, fetches the profile and saves
//     the credential. Upgrade and profile failures are recorded as Warnings
//     (ErrUpgradeDegraded, ErrProfileDegraded) and do not abort the flow
//     unless no external account id is known.
//   - Transitions follow the FlowState graph; WithTransitionHook observes them.
//
// Providers:
//   - Provider is implemented by providers/facebook (Graph API via Facebook
//     Login) and providers/instagram (Instagram Login, basic and business
//     generations). One variant is selected per deployment.
//
// Credential storage:
//   - CredentialStore owns token encryption. repository.CredentialRepository
//     stores an account row and a credential row per external account in one
//     transaction and encrypts tokens with tokencrypt.Cipher.
//
// Token access:
//   - TokenGateway.Lookup returns the stored token or a *TokenExpiredError.
//     It never refreshes; Refresher.Refresh and Refresher.RefreshExpiring do
//     that on explicit request.
package igauth

// Package secrets locks collections of the [org.freedesktop.Secret] service when the device locks,
// so unlocking the device with its PIN does not expose the keyring.
// Programs that provide this API include Gnome Keyring, KDE Wallet, and keepassxc.
//
// [org.freedesktop.Secret]: https://specifications.freedesktop.org/secret-service-spec/latest/
package secrets

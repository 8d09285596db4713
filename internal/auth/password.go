package auth

// VerifyPassword checks a login password. The expected password is the
// first 8 hex characters of md5(username + salt), matching the token
// issuance side of the account provisioning scheme.
func VerifyPassword(username, password, salt string) bool {
	expected := md5Hex(username + salt)[:8]
	return password == expected
}

package mongodb

const (
	CredentialsCollection = "credentials" // local identity provider accounts
)

package ports

// BearerSource is the shared bearer-credential slot the request pipeline
// reads on every call. The session manager writes it at exactly the points
// where the credential store changes, never opportunistically elsewhere.
type BearerSource interface {
	Set(access, refresh string)
	Clear()
	Access() string
	Refresh() string
}

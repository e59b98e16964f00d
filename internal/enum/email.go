package enum

type EmailSecurity string

const (
	EmailSecurityNone     EmailSecurity = "none"
	EmailSecurityTLS      EmailSecurity = "tls"
	EmailSecurityStartTLS EmailSecurity = "starttls"
)

func (t EmailSecurity) String() string {
	return string(t)
}

type EmailImportSource string

const (
	EmailImportIMAP EmailImportSource = "imap"
)

func (t EmailImportSource) String() string {
	return string(t)
}

type StateBackend string

const (
	StateBackendFile     StateBackend = "file"
	StateBackendPostgres StateBackend = "postgres"
	StateBackendMemory   StateBackend = "memory"
)

func (t StateBackend) String() string {
	return string(t)
}

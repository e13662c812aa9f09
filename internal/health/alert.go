package health

import "fmt"

// Alert subjects. The host-specific subject is built by AlertSubject.
const (
	SubjectTimeout   = "NTP health alert timeout"
	SubjectException = "NTP health alert exception"
)

// AlertSubject is the subject for threshold violations and non-timeout
// transport failures on host.
func AlertSubject(host string) string {
	return "NTP health alert on " + host
}

// TimeoutBody is sent when a remote command exceeded its deadline.
func TimeoutBody(host, detail string) string {
	body := "SSH command timed out contacting " + host
	if detail != "" {
		body += ": " + detail
	}
	return body
}

// ExceptionBody is sent when a cycle panicked.
func ExceptionBody(recovered any) string {
	return fmt.Sprintf("Unexpected error during NTP check: %v", recovered)
}

package env

import (
	"regexp"
	"strings"
)

func IsEmpty(value string) bool {
	return value == ""
}

// Email Address
func IsValidEmail(email string) bool {
	matched, _ := regexp.MatchString("^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\\.[a-zA-Z]{2,}$", email)
	return matched
}

// Numeric account identifier
func IsValidAccountID(id string) bool {
	matched, _ := regexp.MatchString("^[0-9]{1,20}$", id)
	return matched
}

// Base32 TOTP secret
func IsValidTOTPSecret(secret string) bool {
	if secret == "" {
		return false
	}
	normalized := strings.ToUpper(strings.ReplaceAll(secret, " ", ""))
	matched, _ := regexp.MatchString("^[A-Z2-7]{16,64}=*$", normalized)
	return matched
}

func IsValidIPAddress(ipAddress string) bool {
	if ipAddress == "localhost" {
		return true
	}
	ipPattern := `^((25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])\.){3}(25[0-5]|2[0-4][0-9]|1[0-9][0-9]|[1-9]?[0-9])$`
	matched, _ := regexp.MatchString(ipPattern, ipAddress)
	return matched
}

// Port number
func IsValidPort(port string) bool {
	matched, _ := regexp.MatchString("^(102[4-9]|10[3-9][0-9]|1[1-9][0-9]{2}|[2-9][0-9]{3}|[1-5][0-9]{4}|6[0-4][0-9]{3}|65[0-4][0-9]{2}|655[0-2][0-9]|6553[0-5])$", port)
	return matched
}

// URL with http(s) or ws(s) scheme
func IsValidURL(url string) bool {
	if url == "" {
		return false
	}

	var rest string
	for _, prefix := range []string{"http://", "https://", "ws://", "wss://"} {
		if strings.HasPrefix(url, prefix) {
			rest = strings.TrimPrefix(url, prefix)
			break
		}
	}
	if rest == "" {
		return false
	}
	rest = strings.SplitN(rest, "/", 2)[0]
	parts := strings.Split(rest, ":")

	domainPattern := `^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`
	hostOK := func(host string) bool {
		if IsValidIPAddress(host) {
			return true
		}
		matched, _ := regexp.MatchString(domainPattern, host)
		return matched
	}

	switch len(parts) {
	case 1:
		return hostOK(parts[0])
	case 2:
		return hostOK(parts[0]) && IsValidPort(parts[1])
	default:
		return false
	}
}

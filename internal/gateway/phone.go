package gateway

import (
	"strconv"
	"strings"

	"github.com/cuongbtq/jobpay/internal/domain"
	"github.com/nyaruka/phonenumbers"
)

// nationalDigits is the expected length of the national significant number
// per supported region. Regions not listed only need to parse as valid.
var nationalDigits = map[string]int{
	"KE": 9,
	"NG": 10,
	"GH": 9,
	"ZA": 9,
}

// NormalizePhone returns raw in E.164 form. Local ("0712345678"),
// country-code ("254712345678") and international ("+254712345678")
// shapes all map to the same value.
func NormalizePhone(raw, defaultRegion string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))
	if cleaned == "" {
		return "", domain.ErrInvalidPhone
	}

	// A bare country-code prefix parses as a national number otherwise.
	if !strings.HasPrefix(cleaned, "+") && !strings.HasPrefix(cleaned, "0") {
		if cc := phonenumbers.GetCountryCodeForRegion(defaultRegion); cc > 0 && strings.HasPrefix(cleaned, strconv.Itoa(cc)) {
			cleaned = "+" + cleaned
		}
	}

	num, err := phonenumbers.Parse(cleaned, defaultRegion)
	if err != nil {
		return "", domain.ErrInvalidPhone.WithMessage("phone number %q could not be parsed", raw)
	}

	region := phonenumbers.GetRegionCodeForNumber(num)
	if want, ok := nationalDigits[region]; ok {
		if got := len(phonenumbers.GetNationalSignificantNumber(num)); got != want {
			return "", domain.ErrInvalidPhone.WithMessage("phone number must have %d digits after the country code, got %d", want, got)
		}
	} else if !phonenumbers.IsValidNumber(num) {
		return "", domain.ErrInvalidPhone
	}

	return phonenumbers.Format(num, phonenumbers.E164), nil
}

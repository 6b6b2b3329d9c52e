package compliance

import (
	"fmt"

	"vaultline.org/internal/account"
	"vaultline.org/internal/fieldcrypt"
	"vaultline.org/internal/obs"
)

// DecryptFailure is a field whose stored value could not be opened. The view
// carries the raw stored value for that field instead.
type DecryptFailure struct {
	Field   string `json:"field"`
	Raw     string `json:"-"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (s *Service) sensitiveFields(values map[string]any) []string {
	fields := make([]string, 0, len(values))
	for _, path := range s.policy.Fields {
		if _, ok := values[path]; ok {
			fields = append(fields, path)
		}
	}
	return fields
}

// seal returns the at-rest record for a with every policy path encrypted.
// a is not modified.
func (s *Service) seal(a account.Account) (account.Record, error) {
	r, err := account.ToRecord(a)
	if err != nil {
		return account.Record{}, err
	}
	values := r.SensitiveValues(s.policy)
	sealed, err := s.crypto.EncryptObject(values, s.sensitiveFields(values))
	if err != nil {
		return account.Record{}, fmt.Errorf("seal account: %w", err)
	}
	r.ApplySensitiveValues(sealed)
	return r, nil
}

// open decrypts r field by field. Fields that fail keep their stored value
// and are reported; the custom field blob is dropped from the view when it
// cannot be opened since its raw form is not a map.
func (s *Service) open(r account.Record) (account.Account, []DecryptFailure) {
	values := r.SensitiveValues(s.policy)
	plain, results := s.crypto.DecryptObject(values, s.sensitiveFields(values))
	out := r.Clone()
	out.ApplySensitiveValues(plain)

	var failures []DecryptFailure
	for _, res := range results {
		if res.Status != fieldcrypt.StatusFailed {
			continue
		}
		raw, _ := values[res.Field].(string)
		failures = append(failures, DecryptFailure{Field: res.Field, Raw: raw, Message: res.Err.Error(), Err: res.Err})
		if res.Field == "custom_fields" {
			out.CustomFields = ""
		}
	}

	a, err := out.ToAccount()
	if err != nil {
		raw := out.CustomFields
		out.CustomFields = ""
		a, _ = out.ToAccount()
		failures = append(failures, DecryptFailure{Field: "custom_fields", Raw: raw, Message: err.Error(), Err: err})
	}

	for _, f := range failures {
		s.metrics.DecryptFailed(f.Field)
		obs.Event(obs.LevelWarn, "compliance.decrypt_failed", map[string]any{
			"account_id": r.ID,
			"field":      f.Field,
			"error":      f.Message,
		})
	}
	return a, failures
}

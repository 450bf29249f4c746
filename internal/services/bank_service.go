package services

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Bank struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// AccountVerification is the resolved holder of a bank account.
type AccountVerification struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
	BankName      string `json:"bank_name,omitempty"`
}

var (
	accountNumberRegex = regexp.MustCompile(`^[0-9]{10}$`)
	bankCodeRegex      = regexp.MustCompile(`^[0-9A-Za-z]{3,6}$`)
)

var nigerianBanks = []Bank{
	{Code: "044", Name: "Access Bank"},
	{Code: "063", Name: "Access Bank (Diamond)"},
	{Code: "401", Name: "ASO Savings and Loans"},
	{Code: "023", Name: "Citibank Nigeria"},
	{Code: "050", Name: "Ecobank Nigeria"},
	{Code: "562", Name: "Ekondo Microfinance Bank"},
	{Code: "070", Name: "Fidelity Bank"},
	{Code: "011", Name: "First Bank of Nigeria"},
	{Code: "214", Name: "First City Monument Bank"},
	{Code: "00103", Name: "Globus Bank"},
	{Code: "058", Name: "Guaranty Trust Bank"},
	{Code: "030", Name: "Heritage Bank"},
	{Code: "301", Name: "Jaiz Bank"},
	{Code: "082", Name: "Keystone Bank"},
	{Code: "526", Name: "Parallex Bank"},
	{Code: "076", Name: "Polaris Bank"},
	{Code: "101", Name: "Providus Bank"},
	{Code: "221", Name: "Stanbic IBTC Bank"},
	{Code: "068", Name: "Standard Chartered Bank"},
	{Code: "232", Name: "Sterling Bank"},
	{Code: "100", Name: "Suntrust Bank"},
	{Code: "302", Name: "TAJ Bank"},
	{Code: "102", Name: "Titan Trust Bank"},
	{Code: "032", Name: "Union Bank of Nigeria"},
	{Code: "033", Name: "United Bank For Africa"},
	{Code: "215", Name: "Unity Bank"},
	{Code: "035", Name: "Wema Bank"},
	{Code: "057", Name: "Zenith Bank"},
	{Code: "304", Name: "Lotus Bank"},
	{Code: "50211", Name: "Kuda Bank"},
	{Code: "090267", Name: "Kuda Microfinance Bank"},
	{Code: "100002", Name: "Paga"},
	{Code: "110005", Name: "Paycom"},
	{Code: "090405", Name: "Moniepoint MFB"},
	{Code: "090328", Name: "Eyowo"},
	{Code: "090175", Name: "Rubies MFB"},
	{Code: "090110", Name: "VFD Microfinance Bank"},
	{Code: "090286", Name: "Safe Haven MFB"},
	{Code: "090365", Name: "Corestep MFB"},
	{Code: "090393", Name: "Bridgeway MFB"},
	{Code: "090270", Name: "AB Microfinance Bank"},
	{Code: "090371", Name: "Agosasa MFB"},
	{Code: "090374", Name: "Amju Unique MFB"},
	{Code: "090376", Name: "Balogun Gambari MFB"},
	{Code: "090377", Name: "Isaleoyo MFB"},
	{Code: "090378", Name: "New Golden Pastures MFB"},
	{Code: "090392", Name: "Mozfin MFB"},
	{Code: "090394", Name: "Nirsal MFB"},
	{Code: "090395", Name: "Nwannegadi MFB"},
	{Code: "090396", Name: "Oscotech MFB"},
	{Code: "090399", Name: "Ndiorah MFB"},
}

type BankService struct {
	resolver AccountResolver
}

func NewBankService(resolver AccountResolver) *BankService {
	return &BankService{resolver: resolver}
}

// Banks returns a copy of the supported bank list.
func (bs *BankService) Banks() []Bank {
	banks := make([]Bank, len(nigerianBanks))
	copy(banks, nigerianBanks)
	return banks
}

// LookupBankCode resolves a bank by code or by case-insensitive name.
func LookupBankCode(nameOrCode string) (Bank, bool) {
	needle := strings.TrimSpace(nameOrCode)
	for _, b := range nigerianBanks {
		if b.Code == needle || strings.EqualFold(b.Name, needle) {
			return b, true
		}
	}
	return Bank{}, false
}

// ValidateAccountNumber accepts a NUBAN: exactly ten digits.
func ValidateAccountNumber(accountNumber string) error {
	if !accountNumberRegex.MatchString(accountNumber) {
		return &ValidationError{Field: "account_number", Message: "account number must be exactly 10 digits"}
	}
	return nil
}

func ValidateBankCode(code string) error {
	if !bankCodeRegex.MatchString(code) {
		return &ValidationError{Field: "bank_code", Message: "invalid bank code"}
	}
	return nil
}

// VerifyAccount asks the resolver for the account holder's name.
func (bs *BankService) VerifyAccount(ctx context.Context, accountNumber, bankCode string) (*AccountVerification, error) {
	if err := ValidateAccountNumber(accountNumber); err != nil {
		return nil, err
	}
	if err := ValidateBankCode(bankCode); err != nil {
		return nil, err
	}

	start := time.Now()
	details, err := bs.resolver.ResolveAccount(ctx, accountNumber, bankCode)
	gatewayDuration.WithLabelValues("resolve_account").Observe(time.Since(start).Seconds())
	if err != nil {
		zap.L().Warn("[BANK_VERIFY] Account resolution failed",
			zap.String("bank_code", bankCode),
			zap.Error(err))
		return nil, &ExternalServiceError{Service: gatewayName, Err: err}
	}

	out := &AccountVerification{
		AccountNumber: details.AccountNumber,
		AccountName:   details.AccountName,
		BankCode:      bankCode,
	}
	if out.AccountNumber == "" {
		out.AccountNumber = accountNumber
	}
	if bank, ok := LookupBankCode(bankCode); ok {
		out.BankName = bank.Name
	}
	return out, nil
}

package vietqr

import "strings"

// Bank is a NAPAS member institution.
type Bank struct {
	Name string
	Code string
}

// Banks lists the institutions offered in the account setup keyboard.
var Banks = []Bank{
	{Name: "Vietcombank", Code: "970436"},
	{Name: "VietinBank", Code: "970415"},
	{Name: "BIDV", Code: "970418"},
	{Name: "Agribank", Code: "970405"},
	{Name: "Techcombank", Code: "970407"},
	{Name: "ACB", Code: "970416"},
	{Name: "Sacombank", Code: "970403"},
	{Name: "MB", Code: "970422"},
	{Name: "TPBank", Code: "970423"},
	{Name: "VPBank", Code: "970432"},
	{Name: "VIB", Code: "970441"},
}

// LookupBank matches query against bank names (case-insensitive) or BINs.
func LookupBank(query string) (Bank, bool) {
	q := strings.TrimSpace(query)
	for _, bank := range Banks {
		if strings.EqualFold(bank.Name, q) || bank.Code == q {
			return bank, true
		}
	}
	return Bank{}, false
}

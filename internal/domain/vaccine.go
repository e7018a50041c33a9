package domain

import "time"

// CVXSystem はFHIRのCVXコードシステムURI。
const CVXSystem = "http://hl7.org/fhir/sid/cvx"

// VaccineCode はCDCが定義するCVXワクチンコードを表す。
type VaccineCode struct {
	Code             int
	ShortDescription string
	FullName         string
	VaccineStatus    string
	Notes            string
	LastUpdated      time.Time
}

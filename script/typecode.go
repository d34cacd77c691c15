package script

import "fmt"

// TypeCode is the base type code of a type table entry.
type TypeCode byte

const (
	TypeReturnAddress       TypeCode = 0
	TypeU8                  TypeCode = 1
	TypeS8                  TypeCode = 2
	TypeU16                 TypeCode = 3
	TypeS16                 TypeCode = 4
	TypeU32                 TypeCode = 5
	TypeS32                 TypeCode = 6
	TypeSingle              TypeCode = 7
	TypeDouble              TypeCode = 8
	TypeExtended            TypeCode = 9
	TypeString              TypeCode = 10
	TypeRecord              TypeCode = 11
	TypeArray               TypeCode = 12
	TypePointer             TypeCode = 13
	TypePChar               TypeCode = 14
	TypeResourcePointer     TypeCode = 15
	TypeVariant             TypeCode = 16
	TypeS64                 TypeCode = 17
	TypeChar                TypeCode = 18
	TypeWideString          TypeCode = 19
	TypeWideChar            TypeCode = 20
	TypeProcPtr             TypeCode = 21
	TypeStaticArray         TypeCode = 22
	TypeSet                 TypeCode = 23
	TypeCurrency            TypeCode = 24
	TypeClass               TypeCode = 25
	TypeInterface           TypeCode = 26
	TypeNotificationVariant TypeCode = 27
	TypeUnicodeString       TypeCode = 28
)

// Pseudo type codes. These never appear as a persisted type record.
const (
	TypePseudoStart TypeCode = 0x80
	TypeEnum        TypeCode = 0x81
	TypeType        TypeCode = 0x82 // operand refers to a type table entry
	TypeExtClass    TypeCode = 0x83
	TypeUnknown     TypeCode = 0xFD // type not known, e.g. external return values
	TypeFunction    TypeCode = 0xFE // operand refers to a function table entry
	TypeInstruction TypeCode = 0xFF // operand refers to an instruction
)

// exportedFlag marks an exported type in the record's first byte.
const exportedFlag = 0x80

var typeCodeNames = map[TypeCode]string{
	TypeReturnAddress:       "ReturnAddress",
	TypeU8:                  "U8",
	TypeS8:                  "S8",
	TypeU16:                 "U16",
	TypeS16:                 "S16",
	TypeU32:                 "U32",
	TypeS32:                 "S32",
	TypeSingle:              "Single",
	TypeDouble:              "Double",
	TypeExtended:            "Extended",
	TypeString:              "String",
	TypeRecord:              "Record",
	TypeArray:               "Array",
	TypePointer:             "Pointer",
	TypePChar:               "PChar",
	TypeResourcePointer:     "ResourcePointer",
	TypeVariant:             "Variant",
	TypeS64:                 "S64",
	TypeChar:                "Char",
	TypeWideString:          "WideString",
	TypeWideChar:            "WideChar",
	TypeProcPtr:             "ProcPtr",
	TypeStaticArray:         "StaticArray",
	TypeSet:                 "Set",
	TypeCurrency:            "Currency",
	TypeClass:               "Class",
	TypeInterface:           "Interface",
	TypeNotificationVariant: "NotificationVariant",
	TypeUnicodeString:       "UnicodeString",
	TypePseudoStart:         "PseudoTypeStart",
	TypeEnum:                "Enum",
	TypeType:                "Type",
	TypeExtClass:            "ExtClass",
	TypeUnknown:             "Unknown",
	TypeFunction:            "Function",
	TypeInstruction:         "Instruction",
}

// String returns the canonical name of the type code.
func (c TypeCode) String() string {
	if name, ok := typeCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("TypeCode(%d)", byte(c))
}

// IsPrimitive reports whether values of this code are scalars with no
// per-type payload in the type table.
func (c TypeCode) IsPrimitive() bool {
	switch c {
	case TypeU8, TypeS8, TypeU16, TypeS16, TypeU32, TypeS32, TypeS64,
		TypeSingle, TypeDouble, TypeCurrency, TypeExtended,
		TypeString, TypePointer, TypePChar, TypeVariant, TypeChar,
		TypeUnicodeString, TypeWideString, TypeWideChar:
		return true
	}
	return false
}

// IsReference reports whether the code is one of the operand reference
// pseudo types (type, function or instruction).
func (c TypeCode) IsReference() bool {
	return c == TypeType || c == TypeFunction || c == TypeInstruction
}

package api

const signupSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["name", "email"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "maxLength": 255},
    "email": {"type": "string", "minLength": 3, "maxLength": 320}
  }
}`

const registerMemberSchema = signupSchema

const createExpenseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount", "type", "details", "date"],
  "properties": {
    "amount": {"type": ["number", "string"]},
    "type": {"type": "string", "enum": ["credit", "debit"]},
    "category": {"type": "string", "maxLength": 100},
    "details": {"type": "string", "minLength": 1, "maxLength": 500},
    "date": {"type": "string", "minLength": 1}
  }
}`

const editExpenseSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount"],
  "properties": {
    "amount": {"type": ["number", "string"]},
    "category": {"type": "string", "maxLength": 100},
    "details": {"type": "string", "maxLength": 500},
    "date": {"type": "string"}
  }
}`

const assignSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["amount", "details", "date"],
  "properties": {
    "amount": {"type": ["number", "string"]},
    "details": {"type": "string", "minLength": 1, "maxLength": 500},
    "date": {"type": "string", "minLength": 1}
  }
}`

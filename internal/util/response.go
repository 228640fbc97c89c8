package util

type Envelope map[string]any

func Error(message string) Envelope {
	return Envelope{"error": message}
}

func Data(key string, value any) Envelope {
	return Envelope{key: value}
}

// Fail is an error body that also carries a machine-readable code.
func Fail(code, message string) Envelope {
	return Envelope{"error": message, "code": code}
}

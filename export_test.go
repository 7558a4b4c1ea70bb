package sqlkit

var WrapDriverError = wrapDriverError

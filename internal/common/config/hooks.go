package config

import (
	"reflect"
	"regexp"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// CustomHooks replaces viper's default decode hooks, so the defaults are composed back in first.
var CustomHooks = []viper.DecoderConfigOption{
	viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		RegexpDecodeHook(),
	)),
}

// RegexpDecodeHook compiles strings into *regexp.Regexp fields, so that a bad pattern is reported when
// the configuration is loaded rather than when the first job runs.
func RegexpDecodeHook() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(&regexp.Regexp{}) {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return nil, nil
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return nil, errors.WithMessagef(err, "invalid pattern %q", s)
		}
		return re, nil
	}
}

package spex

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

// Settings are the site settings kept in settings.txt, one
// "Key: value" pair per line. Values stay strings as entered.
type Settings struct {
	// measurement
	EXinc string `yaml:"EXinc"`
	EMinc string `yaml:"EMinc"`
	TMinc string `yaml:"TMinc"`
	// site established
	EXslit   string `yaml:"EXslit"`
	EMslit   string `yaml:"EMslit"`
	EMhv     string `yaml:"EMhv"`
	REFdiode string `yaml:"REFdiode"`
	REFhv    string `yaml:"REFhv"`
	// site calibrated, stepper steps per nm
	EXstepsNm string `yaml:"EXstepsNm"`
	EMstepsNm string `yaml:"EMstepsNm"`
}

// FactorySettings returns the settings used when no file exists.
func FactorySettings() *Settings {
	return &Settings{
		EXinc:     "1",
		EMinc:     "1",
		TMinc:     "0.1",
		EXslit:    "2.9",
		EMslit:    "2.9",
		EMhv:      "-900",
		REFdiode:  "0",
		REFhv:     "0",
		EXstepsNm: "50",
		EMstepsNm: "50",
	}
}

// LoadSettings reads site settings over the factory settings. A
// missing file is not an error.
func LoadSettings(fn string) (*Settings, error) {
	s := FactorySettings()
	data, err := ioutil.ReadFile(fn)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err = yaml.Unmarshal(data, s); err != nil {
		return FactorySettings(), fmt.Errorf("settings %s: %v", fn, err)
	}
	return s, nil
}

// Save writes the settings file.
func (s *Settings) Save(fn string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return ioutil.WriteFile(fn, data, 0644)
}

// IntegrationTime parses TMinc in seconds.
func (s *Settings) IntegrationTime() (time.Duration, error) {
	sec, err := strconv.ParseFloat(s.TMinc, 64)
	if err != nil {
		return 0, fmt.Errorf("TMinc %q: %v", s.TMinc, err)
	}
	return time.Duration(math.Abs(sec)*1000+0.5) * time.Millisecond, nil
}

// StepsPerNm returns the stepper calibration of a monochromator.
func (s *Settings) StepsPerNm(m Monochromator) (float64, error) {
	str := s.EXstepsNm
	if m == Emission {
		str = s.EMstepsNm
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return 0, fmt.Errorf("%s steps/nm %q: %v", m, str, err)
	}
	return v, nil
}
